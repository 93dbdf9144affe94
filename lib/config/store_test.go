package config_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/challenge/challengetest"
	"github.com/uvensys/formcaptcha/lib/config"
	"github.com/uvensys/formcaptcha/lib/store/bbolt"
	"github.com/uvensys/formcaptcha/lib/store/valkey"
)

func TestStoreValid(t *testing.T) {
	for _, tt := range []struct {
		name  string
		input config.Store
		err   error
	}{
		{
			name:  "no backend",
			input: config.Store{},
			err:   config.ErrNoStoreBackend,
		},
		{
			name: "in-memory backend",
			input: config.Store{
				Backend: "memory",
			},
		},
		{
			name: "bbolt backend",
			input: config.Store{
				Backend:    "bbolt",
				Parameters: json.RawMessage(`{"path": "` + filepath.Join(t.TempDir(), "captcha.db") + `"}`),
			},
		},
		{
			name: "valkey backend",
			input: config.Store{
				Backend:    "valkey",
				Parameters: json.RawMessage(`{"url": "redis://valkey:6379/0"}`),
			},
		},
		{
			name: "valkey backend no URL",
			input: config.Store{
				Backend:    "valkey",
				Parameters: json.RawMessage(`{}`),
			},
			err: valkey.ErrNoURL,
		},
		{
			name: "valkey backend bad URL",
			input: config.Store{
				Backend:    "valkey",
				Parameters: json.RawMessage(`{"url": "http://formcaptcha.example"}`),
			},
			err: valkey.ErrBadURL,
		},
		{
			name: "bbolt backend no path",
			input: config.Store{
				Backend:    "bbolt",
				Parameters: json.RawMessage(`{"path": ""}`),
			},
			err: bbolt.ErrMissingPath,
		},
		{
			name: "unknown backend",
			input: config.Store{
				Backend: "taco salad",
			},
			err: config.ErrUnknownStoreBackend,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.input.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("invalid error returned")
			}
		})
	}
}

func TestStoreBuild(t *testing.T) {
	s, err := (&config.Store{Backend: "memory"}).Build(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	chall := challengetest.New(t, "AB2349")
	if err := s.Insert(t.Context(), chall); err != nil {
		t.Fatal(err)
	}

	if err := s.Validate(t.Context(), chall.ID, "ab2349"); err != nil {
		t.Errorf("built store does not validate: %v", err)
	}

	if _, err := (&config.Store{Backend: "taco salad"}).Build(t.Context()); !errors.Is(err, config.ErrUnknownStoreBackend) {
		t.Errorf("wanted ErrUnknownStoreBackend, got: %v", err)
	}

	if err := s.Validate(t.Context(), chall.ID, "ab2349"); !errors.Is(err, challenge.ErrNotFound) {
		t.Errorf("wanted ErrNotFound, got: %v", err)
	}
}
