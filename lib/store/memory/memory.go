package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/store"
)

type factory struct{}

func (factory) Build(ctx context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(ctx), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

// Store keeps pending challenges in a map guarded by one mutex. Every
// operation holds the lock for its whole duration, including the sweep it
// runs first.
//
// This will not scale to multiple formcaptcha instances. Use the valkey
// backend for that.
type Store struct {
	lock       sync.Mutex
	challenges map[string]challenge.Challenge
	now        func() time.Time
}

// Insert sweeps expired challenges and stores a copy of c.
func (s *Store) Insert(_ context.Context, c *challenge.Challenge) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.sweep(s.now(), "")

	entry := *c
	entry.Image = ""
	s.challenges[entry.ID] = entry

	return nil
}

// Validate sweeps expired challenges, then takes the one stored under id out
// of the map and checks answer against it.
//
// The challenge being validated is left out of the sweep so an expired answer
// is reported as such instead of as unknown.
func (s *Store) Validate(_ context.Context, id, answer string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.now()
	s.sweep(now, id)

	entry, ok := s.challenges[id]
	if !ok {
		return store.NotFound(id)
	}
	delete(s.challenges, id)

	return store.Check(&entry, answer, now)
}

func (s *Store) SweepExpired(context.Context) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.sweep(s.now(), ""), nil
}

// Len returns the number of challenges currently held, expired or not.
func (s *Store) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.challenges)
}

// sweep must be called with s.lock held.
func (s *Store) sweep(now time.Time, keep string) int {
	var n int

	for id, entry := range s.challenges {
		if id == keep {
			continue
		}

		if entry.Expired(now, formcaptcha.ChallengeExpiry) {
			delete(s.challenges, id)
			n++
		}
	}

	if n != 0 {
		store.ChallengesSwept.WithLabelValues("memory").Add(float64(n))
	}

	return n
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepExpired(ctx)
		}
	}
}

// New creates a simple in-memory store. The background sweep stops when ctx
// is cancelled.
func New(ctx context.Context) *Store {
	result := &Store{
		challenges: map[string]challenge.Challenge{},
		now:        time.Now,
	}

	go result.cleanupThread(ctx)

	return result
}
