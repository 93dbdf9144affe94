package valkey

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/challenge/challengetest"
	"github.com/uvensys/formcaptcha/lib/store"
	"github.com/uvensys/formcaptcha/lib/store/storetest"
)

func config(t *testing.T, m *miniredis.Miniredis, prefix string) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(Config{
		URL:    fmt.Sprintf("redis://%s/0", m.Addr()),
		Prefix: prefix,
	})
	if err != nil {
		t.Fatal(err)
	}

	return json.RawMessage(data)
}

func TestImpl(t *testing.T) {
	m := miniredis.RunT(t)

	storetest.Common(t, Factory{}, config(t, m, ""))
}

func TestKeyTTL(t *testing.T) {
	m := miniredis.RunT(t)

	s, err := Factory{}.Build(t.Context(), config(t, m, "test:"))
	if err != nil {
		t.Fatal(err)
	}

	fresh := challengetest.New(t, "AB2349")
	if err := s.Insert(t.Context(), fresh); err != nil {
		t.Fatal(err)
	}

	key := "test:" + fresh.ID
	if !m.Exists(key) {
		t.Fatalf("key %q was not written", key)
	}

	if ttl := m.TTL(key); ttl <= 5*time.Minute || ttl > 5*time.Minute+expiredGrace {
		t.Errorf("wrong TTL for a fresh challenge: %s", ttl)
	}

	stored, err := m.Get(key)
	if err != nil {
		t.Fatal(err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(stored), &fields); err != nil {
		t.Fatal(err)
	}

	if _, ok := fields["image"]; ok {
		t.Error("image was written to valkey")
	}

	m.FastForward(5*time.Minute + expiredGrace + time.Second)

	if err := s.Validate(t.Context(), fresh.ID, "AB2349"); !errors.Is(err, challenge.ErrNotFound) {
		t.Errorf("wanted ErrNotFound once valkey evicted the key, got: %v", err)
	}
}

func newWithClock(t *testing.T, m *miniredis.Miniredis, start time.Time) (*Store, *time.Time) {
	t.Helper()

	st, err := Factory{}.Build(t.Context(), config(t, m, ""))
	if err != nil {
		t.Fatal(err)
	}

	s := st.(*Store)
	now := start
	s.now = func() time.Time { return now }

	return s, &now
}

func countChallenges(t *testing.T, m *miniredis.Miniredis) int {
	t.Helper()

	var n int
	for _, key := range m.Keys() {
		if strings.HasPrefix(key, DefaultPrefix) {
			n++
		}
	}

	return n
}

func TestSweepBoundsGrowth(t *testing.T) {
	m := miniredis.RunT(t)

	start := time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)
	s, now := newWithClock(t, m, start)

	for range 10 {
		chall := challengetest.New(t, "AB2349")
		chall.IssuedAt = start
		if err := s.Insert(t.Context(), chall); err != nil {
			t.Fatal(err)
		}
	}

	*now = start.Add(301 * time.Second)
	m.FastForward(301 * time.Second)

	late := challengetest.New(t, "AB2349")
	late.IssuedAt = *now
	if err := s.Insert(t.Context(), late); err != nil {
		t.Fatal(err)
	}

	if n := countChallenges(t, m); n != 1 {
		t.Errorf("wanted 1 challenge after inserting at T+301s, got %d", n)
	}

	members, err := m.ZMembers(DefaultIndex)
	if err != nil {
		t.Fatal(err)
	}

	if len(members) != 1 || members[0] != late.ID {
		t.Errorf("wanted only the late challenge in the index, got %d members", len(members))
	}

	n, err := s.SweepExpired(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if n != 0 {
		t.Errorf("insert should have swept everything already, swept %d more", n)
	}

	if err := s.Validate(t.Context(), late.ID, "AB2349"); err != nil {
		t.Errorf("fresh challenge was not accepted: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	m := miniredis.RunT(t)

	start := time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)
	s, now := newWithClock(t, m, start)

	var ids []string
	for _, issued := range []time.Duration{0, 0, 0, 200 * time.Second} {
		chall := challengetest.New(t, "AB2349")
		chall.IssuedAt = start.Add(issued)
		if err := s.Insert(t.Context(), chall); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, chall.ID)
	}

	*now = start.Add(300 * time.Second)

	n, err := s.SweepExpired(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if n != 0 {
		t.Errorf("challenges aged exactly the expiry must stay, swept %d", n)
	}

	*now = start.Add(301 * time.Second)

	n, err = s.SweepExpired(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if n != 3 {
		t.Errorf("wanted 3 challenges swept, got %d", n)
	}

	if err := s.Validate(t.Context(), ids[0], "AB2349"); !errors.Is(err, challenge.ErrNotFound) {
		t.Errorf("wanted ErrNotFound for a swept challenge, got: %v", err)
	}

	if err := s.Validate(t.Context(), ids[3], "AB2349"); err != nil {
		t.Errorf("fresh challenge was not accepted: %v", err)
	}
}

func TestValidateReportsExpired(t *testing.T) {
	m := miniredis.RunT(t)

	start := time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)
	s, now := newWithClock(t, m, start)

	chall := challengetest.New(t, "AB2349")
	chall.IssuedAt = start
	if err := s.Insert(t.Context(), chall); err != nil {
		t.Fatal(err)
	}

	*now = start.Add(301 * time.Second)
	m.FastForward(301 * time.Second)

	if err := s.Validate(t.Context(), chall.ID, "AB2349"); !errors.Is(err, challenge.ErrExpired) {
		t.Errorf("wanted ErrExpired, got: %v", err)
	}

	if members, _ := m.ZMembers(DefaultIndex); len(members) != 0 {
		t.Errorf("index still holds %d members", len(members))
	}
}

func TestValidateRemovesKey(t *testing.T) {
	m := miniredis.RunT(t)

	s, err := Factory{}.Build(t.Context(), config(t, m, ""))
	if err != nil {
		t.Fatal(err)
	}

	chall := challengetest.New(t, "AB2349")
	if err := s.Insert(t.Context(), chall); err != nil {
		t.Fatal(err)
	}

	if err := s.Validate(t.Context(), chall.ID, "WRONGCODE"); !errors.Is(err, challenge.ErrInvalid) {
		t.Fatalf("wanted ErrInvalid, got: %v", err)
	}

	if m.Exists(DefaultPrefix + chall.ID) {
		t.Error("challenge is still in valkey after a failed validation")
	}
}

func TestBadStoredValue(t *testing.T) {
	m := miniredis.RunT(t)

	s, err := Factory{}.Build(t.Context(), config(t, m, ""))
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Set(DefaultPrefix+"broken", "}"); err != nil {
		t.Fatal(err)
	}

	if err := s.Validate(t.Context(), "broken", "AB2349"); !errors.Is(err, store.ErrCantDecode) {
		t.Errorf("wanted ErrCantDecode, got: %v", err)
	}
}

func TestFactoryValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  string
		err  error
	}{
		{
			name: "not json",
			cfg:  `}`,
			err:  store.ErrBadConfig,
		},
		{
			name: "no url",
			cfg:  `{}`,
			err:  ErrNoURL,
		},
		{
			name: "bad url",
			cfg:  `{"url": "http://valkey:6379"}`,
			err:  ErrBadURL,
		},
		{
			name: "index inside prefix",
			cfg:  `{"url": "redis://valkey:6379/0", "prefix": "contact:", "index": "contact:index"}`,
			err:  ErrIndexInPrefix,
		},
		{
			name: "good",
			cfg:  `{"url": "redis://valkey:6379/0", "prefix": "contact:"}`,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := (Factory{}).Valid(json.RawMessage(tt.cfg)); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestBuildUnreachable(t *testing.T) {
	m := miniredis.RunT(t)
	cfg := config(t, m, "")
	m.Close()

	if _, err := (Factory{}).Build(t.Context(), cfg); err == nil {
		t.Error("wanted an error when valkey is unreachable")
	}
}
