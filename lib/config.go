package lib

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/data"
	"github.com/uvensys/formcaptcha/internal"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/challenge/render"
	"github.com/uvensys/formcaptcha/lib/config"
	"github.com/uvensys/formcaptcha/lib/store"
)

type Options struct {
	Store      store.Interface
	Generator  *challenge.Generator
	BasePrefix string
}

// LoadConfigOrDefault reads the configuration from fname, or the embedded
// default configuration when fname is empty.
func LoadConfigOrDefault(fname string) (*config.Config, error) {
	var fin io.ReadCloser
	var err error

	if fname != "" {
		fin, err = os.Open(fname)
		if err != nil {
			return nil, fmt.Errorf("can't parse config file %s: %w", fname, err)
		}
	} else {
		fname = "(data)/captcha.yaml"
		fin, err = data.Config.Open("captcha.yaml")
		if err != nil {
			return nil, fmt.Errorf("[unexpected] can't parse builtin config file %s: %w", fname, err)
		}
	}

	defer func(fin io.ReadCloser) {
		err := fin.Close()
		if err != nil {
			slog.Error("failed to close config file", "file", fname, "err", err)
		}
	}(fin)

	return config.Load(fin, fname)
}

// OptionsFromConfig builds the store and challenge generator described by cfg.
// Background work of the store stops when ctx is cancelled.
func OptionsFromConfig(ctx context.Context, cfg *config.Config) (Options, error) {
	st, err := cfg.Store.Build(ctx)
	if err != nil {
		return Options{}, err
	}

	renderer, err := render.New(cfg.Challenge)
	if err != nil {
		return Options{}, fmt.Errorf("lib: can't set up renderer: %w", err)
	}

	return Options{
		Store:     st,
		Generator: challenge.NewGenerator(renderer),
	}, nil
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}

	if opts.Generator == nil {
		return nil, ErrNoGenerator
	}

	formcaptcha.BasePrefix = opts.BasePrefix

	result := &Server{
		store:     opts.Store,
		generator: opts.Generator,
		opts:      opts,
	}

	mux := http.NewServeMux()

	// Helper to add global prefix
	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		// Ensure there's no double slash when concatenating BasePrefix and pattern
		basePrefix := strings.TrimSuffix(formcaptcha.BasePrefix, "/")
		prefix := method + basePrefix

		// If pattern doesn't start with a slash, add one
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}

		mux.Handle(prefix+pattern, handler)
	}

	registerWithPrefix(formcaptcha.APIPrefix+"challenge", internal.NoStoreCache(http.HandlerFunc(result.IssueHandler)), "GET")
	registerWithPrefix(formcaptcha.APIPrefix+"validate", internal.NoStoreCache(http.HandlerFunc(result.ValidateHandler)), "POST")

	result.mux = mux

	return result, nil
}
