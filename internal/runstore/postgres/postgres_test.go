package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/igtsplit/internal/runstore"
	"github.com/MrWong99/igtsplit/internal/split"
	"github.com/MrWong99/igtsplit/pkg/igt"
)

// mockRow implements pgx.Row.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements DB.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// rowFrom scans a saved argument list back, mimicking the database.
func rowFrom(args []any) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		if len(dest) != len(args) {
			return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(args))
		}
		*dest[0].(*string) = args[0].(string)
		*dest[1].(*string) = args[1].(string)
		*dest[2].(*int) = args[2].(int)
		*dest[3].(*int64) = args[3].(int64)
		*dest[4].(*int64) = args[4].(int64)
		*dest[5].(*bool) = args[5].(bool)
		*dest[6].(*int64) = args[6].(int64)
		*dest[7].(*[]byte) = args[7].([]byte)
		*dest[8].(*time.Time) = args[8].(time.Time)
		return nil
	}}
}

func sampleRun() *runstore.Run {
	return &runstore.Run{
		Video:    "run.mp4",
		Number:   3,
		Start:    1500 * time.Millisecond,
		End:      time.Minute,
		Finished: true,
		Final:    59 * time.Second,
		Events: []split.Event{
			{Seq: 1, Run: 3, Timestamp: 2 * time.Second, IGT: igt.FromDuration(time.Second).WithPercent(40), Label: "cave", Kind: split.KindSplit},
			{Seq: 2, Run: 3, Timestamp: time.Minute, IGT: igt.FromDuration(59 * time.Second), Kind: split.KindFinal},
		},
	}
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	t.Parallel()
	var saved []any
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "INSERT INTO igtsplit_runs") {
				t.Errorf("unexpected SQL: %s", sql)
			}
			saved = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			if len(args) != 1 || args[0] != saved[0] {
				t.Errorf("Get args = %v", args)
			}
			return rowFrom(saved)
		},
	}
	s := New(db)
	run := sampleRun()
	if err := s.Save(context.Background(), run); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("Save did not assign an ID")
	}

	got, err := s.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != run.ID || got.Video != run.Video || got.Number != 3 || got.Start != run.Start || got.Final != run.Final {
		t.Errorf("Get = %+v", got)
	}
	if len(got.Events) != 2 {
		t.Fatalf("got %d events", len(got.Events))
	}
	for i := range run.Events {
		if got.Events[i] != run.Events[i] {
			t.Errorf("event %d = %+v, want %+v", i, got.Events[i], run.Events[i])
		}
	}
}

func TestStore_GetNotFound(t *testing.T) {
	t.Parallel()
	s := New(&mockDB{})
	run, err := s.Get(context.Background(), uuid.New())
	if run != nil || err != nil {
		t.Errorf("Get = %v, %v; want nil, nil", run, err)
	}
	pb, err := s.PersonalBest(context.Background())
	if pb != nil || err != nil {
		t.Errorf("PersonalBest = %v, %v; want nil, nil", pb, err)
	}
}

func TestStore_SaveDuplicate(t *testing.T) {
	t.Parallel()
	s := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
	}})
	err := s.Save(context.Background(), sampleRun())
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("err = %v", err)
	}
}

func TestStore_Migrate(t *testing.T) {
	t.Parallel()
	var got string
	s := New(&mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != Schema {
		t.Error("Migrate did not execute the schema")
	}

	failing := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("boom")
	}})
	if err := failing.Migrate(context.Background()); err == nil {
		t.Error("expected migrate error")
	}
}

func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("IGTSPLIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("IGTSPLIT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Close(ctx) })

	s := New(conn)
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	video := "integration-" + uuid.NewString()
	run := sampleRun()
	run.Video = video
	if err := s.Save(ctx, run); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Exec(ctx, `DELETE FROM igtsplit_runs WHERE video = $1`, video) })

	list, err := s.List(ctx, video)
	if err != nil || len(list) != 1 || list[0].ID != run.ID {
		t.Fatalf("List = %+v, %v", list, err)
	}
	pb, err := s.PersonalBest(ctx)
	if err != nil || pb == nil {
		t.Fatalf("PersonalBest = %+v, %v", pb, err)
	}
}
