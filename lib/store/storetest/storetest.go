// Package storetest is the contract every challenge store backend must pass.
package storetest

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/challenge/challengetest"
	"github.com/uvensys/formcaptcha/lib/store"
)

// Common builds a store from f and config and runs the shared scenarios
// against it. Scenarios run one after another because sweeps triggered by one
// of them may remove challenges another one relies on.
func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	if c, ok := s.(io.Closer); ok {
		t.Cleanup(func() {
			if err := c.Close(); err != nil {
				t.Errorf("can't close store: %v", err)
			}
		})
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "correct answer is accepted once",
			doer: func(t *testing.T, s store.Interface) error {
				chall := challengetest.New(t, "AB2349")

				if err := s.Insert(t.Context(), chall); err != nil {
					t.Fatal(err)
				}

				if err := s.Validate(t.Context(), chall.ID, "ab2349"); err != nil {
					t.Fatalf("first validation failed: %v", err)
				}

				return s.Validate(t.Context(), chall.ID, "ab2349")
			},
			err: challenge.ErrNotFound,
		},
		{
			name: "unknown id",
			doer: func(t *testing.T, s store.Interface) error {
				return s.Validate(t.Context(), "unknown-id", "ANY")
			},
			err: challenge.ErrNotFound,
		},
		{
			name: "wrong answer consumes the challenge",
			doer: func(t *testing.T, s store.Interface) error {
				chall := challengetest.New(t, "AB2349")

				if err := s.Insert(t.Context(), chall); err != nil {
					t.Fatal(err)
				}

				if err := s.Validate(t.Context(), chall.ID, "WRONGCODE"); !errors.Is(err, challenge.ErrInvalid) {
					t.Fatalf("wanted ErrInvalid for a wrong answer, got: %v", err)
				}

				return s.Validate(t.Context(), chall.ID, "AB2349")
			},
			err: challenge.ErrNotFound,
		},
		{
			name: "empty answer",
			doer: func(t *testing.T, s store.Interface) error {
				chall := challengetest.New(t, "KM7T2P")

				if err := s.Insert(t.Context(), chall); err != nil {
					t.Fatal(err)
				}

				return s.Validate(t.Context(), chall.ID, "")
			},
			err: challenge.ErrInvalid,
		},
		{
			name: "just before expiry",
			doer: func(t *testing.T, s store.Interface) error {
				chall := challengetest.New(t, "AB2349")
				chall.IssuedAt = time.Now().Add(-formcaptcha.ChallengeExpiry + time.Second)

				if err := s.Insert(t.Context(), chall); err != nil {
					t.Fatal(err)
				}

				return s.Validate(t.Context(), chall.ID, "AB2349")
			},
		},
		{
			name: "expired",
			doer: func(t *testing.T, s store.Interface) error {
				chall := challengetest.New(t, "AB2349")
				chall.IssuedAt = time.Now().Add(-formcaptcha.ChallengeExpiry - time.Second)

				if err := s.Insert(t.Context(), chall); err != nil {
					t.Fatal(err)
				}

				if err := s.Validate(t.Context(), chall.ID, "AB2349"); !errors.Is(err, challenge.ErrExpired) {
					t.Fatalf("wanted ErrExpired, got: %v", err)
				}

				return s.Validate(t.Context(), chall.ID, "AB2349")
			},
			err: challenge.ErrNotFound,
		},
		{
			name: "insert overwrites",
			doer: func(t *testing.T, s store.Interface) error {
				first := challengetest.New(t, "AB2349")
				second := challengetest.New(t, "XY7788")
				second.ID = first.ID

				if err := s.Insert(t.Context(), first); err != nil {
					t.Fatal(err)
				}

				if err := s.Insert(t.Context(), second); err != nil {
					t.Fatal(err)
				}

				return s.Validate(t.Context(), first.ID, "XY7788")
			},
		},
		{
			name: "sweep never lets an expired challenge through",
			doer: func(t *testing.T, s store.Interface) error {
				stale := challengetest.New(t, "AB2349")
				stale.IssuedAt = time.Now().Add(-2 * formcaptcha.ChallengeExpiry)
				fresh := challengetest.New(t, "AB2349")

				for _, chall := range []*challenge.Challenge{stale, fresh} {
					if err := s.Insert(t.Context(), chall); err != nil {
						t.Fatal(err)
					}
				}

				if _, err := s.SweepExpired(t.Context()); err != nil {
					return err
				}

				switch err := s.Validate(t.Context(), stale.ID, "AB2349"); {
				case err == nil:
					t.Error("expired challenge was accepted after a sweep")
				case !errors.Is(err, challenge.ErrNotFound) && !errors.Is(err, challenge.ErrExpired):
					t.Errorf("wanted ErrNotFound or ErrExpired, got: %v", err)
				}

				return s.Validate(t.Context(), fresh.ID, "AB2349")
			},
		},
		{
			name: "concurrent validation succeeds once",
			doer: func(t *testing.T, s store.Interface) error {
				const workers = 32

				chall := challengetest.New(t, "AB2349")
				if err := s.Insert(t.Context(), chall); err != nil {
					t.Fatal(err)
				}

				errs := make([]error, workers)
				var wg sync.WaitGroup
				for i := range workers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs[i] = s.Validate(t.Context(), chall.ID, "AB2349")
					}()
				}
				wg.Wait()

				var ok int
				for _, err := range errs {
					switch {
					case err == nil:
						ok++
					case !errors.Is(err, challenge.ErrNotFound):
						t.Errorf("wanted ErrNotFound for a losing validation, got: %v", err)
					}
				}

				if ok != 1 {
					t.Errorf("wanted exactly one successful validation, got %d", ok)
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
