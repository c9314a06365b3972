package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

// ErrProviderNotRegistered is returned by [Registry.CreateOCR] when no factory
// has been registered under the requested engine name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// OCRFactory builds an OCR engine from its configuration entry.
type OCRFactory func(ProviderEntry) (ocr.Provider, error)

// Registry maps OCR engine names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ocr map[string]OCRFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{ocr: make(map[string]OCRFactory)}
}

// RegisterOCR registers an OCR engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterOCR(name string, factory OCRFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr[name] = factory
}

// CreateOCR instantiates an OCR engine using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateOCR(entry ProviderEntry) (ocr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.ocr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ocr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// OCRNames returns the registered engine names, sorted.
func (r *Registry) OCRNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ocr))
	for n := range r.ocr {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String returns the string option key, or def when it is unset.
func (e ProviderEntry) String(key, def string) (string, error) {
	v, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config: %s option %q must be a string, got %T", e.Name, key, v)
	}
	return s, nil
}

// Int returns the integer option key, or def when it is unset.
func (e ProviderEntry) Int(key string, def int) (int, error) {
	v, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("config: %s option %q must be an integer, got %v", e.Name, key, v)
}

// Strings returns the option key as a list. A single string is accepted as
// a list of one.
func (e ProviderEntry) Strings(key string) ([]string, error) {
	v, ok := e.Options[key]
	if !ok {
		return nil, nil
	}
	switch l := v.(type) {
	case string:
		return []string{l}, nil
	case []string:
		return slices.Clone(l), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("config: %s option %q must contain strings, got %T", e.Name, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("config: %s option %q must be a list of strings, got %T", e.Name, key, v)
}
