package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/uvensys/formcaptcha/lib/config"
	"github.com/uvensys/formcaptcha/lib/store/valkey"
)

func TestChallengeRulesValid(t *testing.T) {
	for _, tt := range []struct {
		name  string
		input func(cr *config.ChallengeRules)
		err   error
	}{
		{
			name:  "defaults",
			input: func(*config.ChallengeRules) {},
		},
		{
			name:  "too small",
			input: func(cr *config.ChallengeRules) { cr.Width = 10 },
			err:   config.ErrImageTooSmall,
		},
		{
			name:  "too large",
			input: func(cr *config.ChallengeRules) { cr.Height = 5000 },
			err:   config.ErrImageTooLarge,
		},
		{
			name:  "negative noise",
			input: func(cr *config.ChallengeRules) { cr.Noise = -0.1 },
			err:   config.ErrNoiseOutOfRange,
		},
		{
			name:  "too many dots",
			input: func(cr *config.ChallengeRules) { cr.Dots = 9001 },
			err:   config.ErrDotsOutOfRange,
		},
		{
			name:  "wave taller than the image allows",
			input: func(cr *config.ChallengeRules) { cr.WaveAmplitude = 31 },
			err:   config.ErrWaveOutOfRange,
		},
		{
			name:  "negative frequency",
			input: func(cr *config.ChallengeRules) { cr.WaveFrequency = -1 },
			err:   config.ErrWaveFrequencyTooLow,
		},
		{
			name:  "everything off",
			input: func(cr *config.ChallengeRules) { *cr = config.ChallengeRules{Width: 60, Height: 30} },
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cr := config.DefaultChallengeRules
			tt.input(&cr)

			if err := cr.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("invalid error returned")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	for _, tt := range []struct {
		fname string
		err   error
		check func(t *testing.T, c *config.Config)
	}{
		{
			fname: "empty.yaml",
			check: func(t *testing.T, c *config.Config) {
				if c.Store.Backend != "memory" {
					t.Errorf("wanted the memory backend by default, got %q", c.Store.Backend)
				}

				if c.Challenge != config.DefaultChallengeRules {
					t.Errorf("wanted default challenge rules, got %+v", c.Challenge)
				}
			},
		},
		{
			fname: "bbolt.yaml",
			check: func(t *testing.T, c *config.Config) {
				if c.Store.Backend != "bbolt" {
					t.Errorf("wanted the bbolt backend, got %q", c.Store.Backend)
				}

				if c.Challenge.Noise != 0.25 || c.Challenge.Dots != 30 {
					t.Errorf("overrides were not applied: %+v", c.Challenge)
				}

				if c.Challenge.Width != config.DefaultChallengeRules.Width {
					t.Errorf("unset width should keep its default, got %d", c.Challenge.Width)
				}
			},
		},
		{
			fname: "valkey.json",
			check: func(t *testing.T, c *config.Config) {
				want := config.ChallengeRules{
					Width:         300,
					Height:        100,
					Noise:         0.5,
					Dots:          10,
					WaveAmplitude: 5,
					WaveFrequency: 1.5,
				}

				if c.Challenge != want {
					t.Logf("want: %+v", want)
					t.Logf("got:  %+v", c.Challenge)
					t.Error("wrong challenge rules")
				}
			},
		},
		{
			fname: "bad_challenge.yaml",
			err:   config.ErrNoiseOutOfRange,
		},
		{
			fname: "bad_store.yaml",
			err:   valkey.ErrNoURL,
		},
	} {
		t.Run(tt.fname, func(t *testing.T) {
			fin, err := os.Open(filepath.Join("testdata", tt.fname))
			if err != nil {
				t.Fatal(err)
			}
			defer fin.Close()

			c, err := config.Load(fin, tt.fname)
			if !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Fatal("invalid error returned")
			}

			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestLoadNotYAML(t *testing.T) {
	fin, err := os.Open(filepath.Join("testdata", "not_yaml.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	defer fin.Close()

	_, err = config.Load(fin, "not_yaml.yaml")
	if err == nil || !strings.Contains(err.Error(), "can't parse config YAML") {
		t.Errorf("wanted a parse error, got: %v", err)
	}
}
