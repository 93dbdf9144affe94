package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/lib/challenge"
)

var (
	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode the value into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface defines the calls the form layer uses to keep track of pending
// challenges. This can be implemented with an in-memory, on-disk, or
// in-database storage backend.
//
// Every implementation must make Validate consume the challenge: out of any
// number of concurrent Validate calls for one ID, at most one may see the
// stored challenge.
type Interface interface {
	// Insert registers c under c.ID, replacing any challenge with the same ID.
	// Expired challenges are swept first.
	Insert(ctx context.Context, c *challenge.Challenge) error

	// Validate checks answer against the challenge stored under id and removes
	// that challenge whatever the outcome. It returns an error wrapping
	// challenge.ErrNotFound, challenge.ErrExpired or challenge.ErrInvalid when
	// the answer must not be accepted.
	Validate(ctx context.Context, id, answer string) error

	// SweepExpired removes every challenge older than formcaptcha.ChallengeExpiry
	// and reports how many were removed.
	SweepExpired(ctx context.Context) (int, error)
}

// Check decides the outcome for a challenge that a backend has already taken
// out of storage. Solve times of accepted answers go to challenge.TimeTaken.
func Check(c *challenge.Challenge, answer string, now time.Time) error {
	if c.Expired(now, formcaptcha.ChallengeExpiry) {
		return fmt.Errorf("%w: issued at %s", challenge.ErrExpired, c.IssuedAt.Format(time.RFC3339))
	}

	if !challenge.Verify(c, answer) {
		return challenge.ErrInvalid
	}

	challenge.TimeTaken.Observe(now.Sub(c.IssuedAt).Seconds())

	return nil
}

func NotFound(id string) error {
	return fmt.Errorf("%w: %q", challenge.ErrNotFound, id)
}

func z[T any]() T { return *new(T) }

// JSON is the codec used by backends that store bytes. Prefix namespaces keys
// in shared datastores.
type JSON[T any] struct {
	Prefix string
}

func (j JSON[T]) Key(id string) string {
	return j.Prefix + id
}

func (j JSON[T]) Encode(value T) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return data, nil
}

func (j JSON[T]) Decode(data []byte) (T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}
