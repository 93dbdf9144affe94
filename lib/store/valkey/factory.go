package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

var (
	ErrNoURL  = errors.New("valkey.Config: no URL defined")
	ErrBadURL = errors.New("valkey.Config: URL is invalid")

	ErrIndexInPrefix = errors.New("valkey.Config: index key must not start with the challenge prefix")
)

func init() {
	store.Register("valkey", Factory{})
}

type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	var config Config

	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	opts, err := valkey.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	rdb := valkey.NewClient(opts)

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	return &Store{
		rdb:   rdb,
		codec: store.JSON[challenge.Challenge]{Prefix: config.KeyPrefix()},
		index: config.IndexKey(),
		now:   time.Now,
	}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

type Config struct {
	URL string `json:"url"`

	// Prefix namespaces challenge keys when the database is shared with
	// other applications. Defaults to DefaultPrefix.
	Prefix string `json:"prefix,omitempty"`

	// Index is the sorted set holding every challenge ID by issuance time.
	// Defaults to DefaultIndex.
	Index string `json:"index,omitempty"`
}

const (
	DefaultPrefix = "formcaptcha:challenge:"
	DefaultIndex  = "formcaptcha:issued"
)

func (c Config) KeyPrefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}

	return c.Prefix
}

func (c Config) IndexKey() string {
	if c.Index == "" {
		return DefaultIndex
	}

	return c.Index
}

func (c Config) Valid() error {
	var errs []error

	switch {
	case c.URL == "":
		errs = append(errs, ErrNoURL)
	default:
		if _, err := valkey.ParseURL(c.URL); err != nil {
			errs = append(errs, ErrBadURL)
		}
	}

	if strings.HasPrefix(c.IndexKey(), c.KeyPrefix()) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrIndexInPrefix, c.IndexKey()))
	}

	if len(errs) != 0 {
		return fmt.Errorf("valkey.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
