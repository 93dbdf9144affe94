package bbolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrMissingIssuedAt = errors.New("bbolt: challenge has no issuedAt key")
	ErrMissingData     = errors.New("bbolt: challenge has no data key")
)

var (
	issuedAtKey = []byte("issuedAt")
	dataKey     = []byte("data")
)

// Store implements store.Interface backed by bbolt[1].
//
// Every challenge is given its own bucket, named after the challenge ID, with
// two keys:
//
// 1. data - The challenge encoded as JSON
// 2. issuedAt - The issuance time formatted as a time.RFC3339Nano timestamp string
//
// This allows the sweep to iterate over every bucket in the database and
// only look at the issuance times without having to decode the entire record.
//
// All operations run in a single read-write transaction, and bbolt allows only
// one of those at a time, so validating a challenge consumes it atomically.
//
// bbolt is not suitable for environments where multiple instances of
// formcaptcha need to read from and write to the same backend store. For that,
// use the valkey storage backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb   *bbolt.DB
	codec store.JSON[challenge.Challenge]
	now   func() time.Time
}

func (s *Store) Insert(ctx context.Context, c *challenge.Challenge) error {
	data, err := s.codec.Encode(*c)
	if err != nil {
		return err
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if _, err := s.sweep(tx, s.now(), ""); err != nil {
			return err
		}

		key := []byte(c.ID)

		// Drop the old bucket so an overwrite never mixes keys of two challenges.
		if tx.Bucket(key) != nil {
			if err := tx.DeleteBucket(key); err != nil {
				return fmt.Errorf("%w: %w: %q (delete bucket)", store.ErrCantEncode, err, c.ID)
			}
		}

		valueBkt, err := tx.CreateBucket(key)
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, c.ID)
		}

		if err := valueBkt.Put(issuedAtKey, []byte(c.IssuedAt.Format(time.RFC3339Nano))); err != nil {
			return fmt.Errorf("%w: %q (issuedAt)", store.ErrCantEncode, c.ID)
		}

		if err := valueBkt.Put(dataKey, data); err != nil {
			return fmt.Errorf("%w: %q (data)", store.ErrCantEncode, c.ID)
		}

		return nil
	})
}

// Validate looks up the challenge, removes its bucket and checks answer
// against it, all in one transaction.
func (s *Store) Validate(ctx context.Context, id, answer string) error {
	var result error

	if err := s.bdb.Update(func(tx *bbolt.Tx) error {
		now := s.now()

		if _, err := s.sweep(tx, now, id); err != nil {
			return err
		}

		key := []byte(id)

		itemBucket := tx.Bucket(key)
		if itemBucket == nil {
			result = store.NotFound(id)
			return nil
		}

		dataStr := itemBucket.Get(dataKey)
		if dataStr == nil {
			return fmt.Errorf("[unexpected] %w: %q", ErrMissingData, id)
		}

		// The byte slice is only valid for the life of the transaction and
		// DeleteBucket below invalidates it, so decode first.
		entry, err := s.codec.Decode(dataStr)
		if err != nil {
			return fmt.Errorf("[unexpected] %w in bucket %q", err, id)
		}

		if err := tx.DeleteBucket(key); err != nil {
			return fmt.Errorf("can't delete bucket %q: %w", id, err)
		}

		result = store.Check(&entry, answer, now)
		return nil
	}); err != nil {
		return err
	}

	return result
}

func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	var n int

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		var err error
		n, err = s.sweep(tx, s.now(), "")
		return err
	})

	return n, err
}

// sweep removes expired challenges except keep. Buckets are collected first
// and deleted after iterating, as bbolt forbids changing buckets inside ForEach.
func (s *Store) sweep(tx *bbolt.Tx, now time.Time, keep string) (int, error) {
	var expired [][]byte

	if err := tx.ForEach(func(key []byte, valueBkt *bbolt.Bucket) error {
		if string(key) == keep {
			return nil
		}

		issuedAtStr := valueBkt.Get(issuedAtKey)
		if issuedAtStr == nil {
			slog.Warn("while sweeping, issuedAt is not set somehow, removing the challenge", "key", string(key))
			expired = append(expired, append([]byte(nil), key...))
			return nil
		}

		issuedAt, err := time.Parse(time.RFC3339Nano, string(issuedAtStr))
		if err != nil {
			return fmt.Errorf("[unexpected] %w in bucket %q: %w", store.ErrCantDecode, string(key), err)
		}

		if now.Sub(issuedAt) > formcaptcha.ChallengeExpiry {
			expired = append(expired, append([]byte(nil), key...))
		}

		return nil
	}); err != nil {
		return 0, err
	}

	for _, key := range expired {
		if err := tx.DeleteBucket(key); err != nil {
			return 0, fmt.Errorf("can't delete bucket %q: %w", string(key), err)
		}
	}

	if len(expired) != 0 {
		store.ChallengesSwept.WithLabelValues("bbolt").Add(float64(len(expired)))
	}

	return len(expired), nil
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				slog.Error("error during bbolt sweep", "err", err)
			}
		}
	}
}

// Close closes the database. Call it once nothing uses the Store anymore.
func (s *Store) Close() error {
	return s.bdb.Close()
}
