package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// expiredGrace keeps a challenge around after it stops being valid so that a
// late answer is reported as expired rather than unknown. Sweeps remove
// expired challenges regardless of it.
const expiredGrace = time.Minute

// sweepScript removes every challenge in the index issued before ARGV[1]
// (unix milliseconds), except ARGV[3], and returns how many challenge keys
// were deleted. KEYS[1] is the index, ARGV[2] the challenge key prefix.
var sweepScript = valkey.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local removed = 0
for _, id in ipairs(ids) do
  if id ~= ARGV[3] then
    removed = removed + redis.call('DEL', ARGV[2] .. id)
    redis.call('ZREM', KEYS[1], id)
  end
end
return removed
`)

// Store keeps each challenge under its own key and indexes every ID by
// issuance time in a sorted set. GETDEL makes reading and consuming a
// challenge one atomic step, so any number of formcaptcha instances can share
// one Store.
//
// Key TTLs are a backstop for instances that stop sweeping. The sweep itself
// runs as a single script, so it is atomic with respect to other clients.
type Store struct {
	rdb   *valkey.Client
	codec store.JSON[challenge.Challenge]
	index string
	now   func() time.Time
}

func (s *Store) Insert(ctx context.Context, c *challenge.Challenge) error {
	data, err := s.codec.Encode(*c)
	if err != nil {
		return err
	}

	if _, err := s.sweep(ctx, ""); err != nil {
		return err
	}

	ttl := formcaptcha.ChallengeExpiry - s.now().Sub(c.IssuedAt)
	if ttl < 0 {
		ttl = 0
	}
	ttl += expiredGrace

	key := s.codec.Key(c.ID)
	if _, err := s.rdb.TxPipelined(ctx, func(pipe valkey.Pipeliner) error {
		pipe.Set(ctx, key, string(data), ttl)
		pipe.ZAdd(ctx, s.index, valkey.Z{Score: float64(c.IssuedAt.UnixMilli()), Member: c.ID})
		return nil
	}); err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", key, err)
	}

	return nil
}

// Validate sweeps every expired challenge but the one stored under id, then
// takes that one out of valkey and checks answer against it.
func (s *Store) Validate(ctx context.Context, id, answer string) error {
	if _, err := s.sweep(ctx, id); err != nil {
		return err
	}

	var get *valkey.StringCmd
	if _, err := s.rdb.TxPipelined(ctx, func(pipe valkey.Pipeliner) error {
		get = pipe.GetDel(ctx, s.codec.Key(id))
		pipe.ZRem(ctx, s.index, id)
		return nil
	}); err != nil && !errors.Is(err, valkey.Nil) {
		return fmt.Errorf("can't fetch from valkey: %w", err)
	}

	result, err := get.Result()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return store.NotFound(id)
		}

		return fmt.Errorf("can't fetch from valkey: %w", err)
	}

	entry, err := s.codec.Decode([]byte(result))
	if err != nil {
		return err
	}

	return store.Check(&entry, answer, s.now())
}

func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	return s.sweep(ctx, "")
}

func (s *Store) sweep(ctx context.Context, keep string) (int, error) {
	cutoff := s.now().Add(-formcaptcha.ChallengeExpiry).UnixMilli()

	n, err := sweepScript.Run(ctx, s.rdb, []string{s.index}, cutoff, s.codec.Prefix, keep).Int()
	if err != nil {
		return 0, fmt.Errorf("can't sweep valkey: %w", err)
	}

	if n != 0 {
		store.ChallengesSwept.WithLabelValues("valkey").Add(float64(n))
	}

	return n, nil
}

// Close closes the valkey client. Call it once nothing uses the Store anymore.
func (s *Store) Close() error {
	return s.rdb.Close()
}
