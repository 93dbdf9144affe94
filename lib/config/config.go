package config

import (
	"errors"
	"fmt"
	"io"

	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrImageTooSmall       = errors.New("config.ChallengeRules: image is too small (must be at least 60x30)")
	ErrImageTooLarge       = errors.New("config.ChallengeRules: image is too large (must be at most 1000x500)")
	ErrNoiseOutOfRange     = errors.New("config.ChallengeRules: noise must be between 0 and 1")
	ErrDotsOutOfRange      = errors.New("config.ChallengeRules: dots must be between 0 and 500")
	ErrWaveOutOfRange      = errors.New("config.ChallengeRules: wave amplitude must be between 0 and a quarter of the image height")
	ErrWaveFrequencyTooLow = errors.New("config.ChallengeRules: wave frequency must not be negative")
)

// ChallengeRules tunes how challenge images are drawn. None of these values
// change how a challenge is verified.
type ChallengeRules struct {
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	Noise         float64 `json:"noise,omitempty"`          // share of pixels that get additive noise
	Dots          int     `json:"dots,omitempty"`           // number of clutter dots
	WaveAmplitude float64 `json:"wave_amplitude,omitempty"` // maximum vertical shift in pixels
	WaveFrequency float64 `json:"wave_frequency,omitempty"` // full sine periods across the image width
}

// DefaultChallengeRules matches what the contact form has always shipped.
var DefaultChallengeRules = ChallengeRules{
	Width:         220,
	Height:        120,
	Noise:         0.4,
	Dots:          15,
	WaveAmplitude: 8,
	WaveFrequency: 2,
}

func (cr ChallengeRules) Valid() error {
	var errs []error

	if cr.Width < 60 || cr.Height < 30 {
		errs = append(errs, fmt.Errorf("%w, got: %dx%d", ErrImageTooSmall, cr.Width, cr.Height))
	}

	if cr.Width > 1000 || cr.Height > 500 {
		errs = append(errs, fmt.Errorf("%w, got: %dx%d", ErrImageTooLarge, cr.Width, cr.Height))
	}

	if cr.Noise < 0 || cr.Noise > 1 {
		errs = append(errs, fmt.Errorf("%w, got: %v", ErrNoiseOutOfRange, cr.Noise))
	}

	if cr.Dots < 0 || cr.Dots > 500 {
		errs = append(errs, fmt.Errorf("%w, got: %d", ErrDotsOutOfRange, cr.Dots))
	}

	if cr.WaveAmplitude < 0 || cr.WaveAmplitude > float64(cr.Height)/4 {
		errs = append(errs, fmt.Errorf("%w, got: %v", ErrWaveOutOfRange, cr.WaveAmplitude))
	}

	if cr.WaveFrequency < 0 {
		errs = append(errs, fmt.Errorf("%w, got: %v", ErrWaveFrequencyTooLow, cr.WaveFrequency))
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: challenge rules entry is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

type fileConfig struct {
	Store     *Store          `json:"store"`
	Challenge *ChallengeRules `json:"challenge"`
}

// Config is the parsed and validated service configuration.
type Config struct {
	Store     Store
	Challenge ChallengeRules
}

// Load parses a YAML (or JSON) configuration document. A missing store
// section falls back to the in-memory store, and challenge settings that are
// left out keep their DefaultChallengeRules values.
func Load(fin io.Reader, fname string) (*Config, error) {
	rules := DefaultChallengeRules
	c := fileConfig{Challenge: &rules}

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("can't parse config YAML %s: %w", fname, err)
	}

	result := &Config{
		Store:     Store{Backend: "memory"},
		Challenge: DefaultChallengeRules,
	}

	if c.Store != nil {
		result.Store = *c.Store
	}

	if c.Challenge != nil {
		result.Challenge = *c.Challenge
	}

	var validationErrs []error

	if err := result.Store.Valid(); err != nil {
		validationErrs = append(validationErrs, err)
	}

	if err := result.Challenge.Valid(); err != nil {
		validationErrs = append(validationErrs, err)
	}

	if len(validationErrs) > 0 {
		return nil, fmt.Errorf("errors validating config %s: %w", fname, errors.Join(validationErrs...))
	}

	return result, nil
}
