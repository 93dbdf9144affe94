package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uvensys/formcaptcha/lib/store"
	_ "github.com/uvensys/formcaptcha/lib/store/all"
)

var (
	ErrNoStoreBackend      = errors.New("config.Store: no backend defined")
	ErrUnknownStoreBackend = errors.New("config.Store: unknown backend")
)

type Store struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters"`
}

func (s *Store) Valid() error {
	var errs []error

	if len(s.Backend) == 0 {
		errs = append(errs, ErrNoStoreBackend)
	}

	fac, ok := store.Get(s.Backend)
	switch ok {
	case true:
		if err := fac.Valid(s.Parameters); err != nil {
			errs = append(errs, err)
		}
	case false:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownStoreBackend, s.Backend))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Build validates the configuration and constructs the configured backend.
// Background work started by the backend stops when ctx is cancelled.
func (s *Store) Build(ctx context.Context) (store.Interface, error) {
	if err := s.Valid(); err != nil {
		return nil, err
	}

	fac, _ := store.Get(s.Backend)

	result, err := fac.Build(ctx, s.Parameters)
	if err != nil {
		return nil, fmt.Errorf("can't build %s store: %w", s.Backend, err)
	}

	return result, nil
}
