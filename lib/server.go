package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uvensys/formcaptcha/internal"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/store"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formcaptcha_challenges_issued",
		Help: "The total number of challenges issued",
	})

	challengesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formcaptcha_challenges_validated",
		Help: "The total number of challenge validations by outcome",
	}, []string{"result"})
)

var (
	ErrNoStore     = errors.New("lib: no challenge store configured")
	ErrNoGenerator = errors.New("lib: no challenge generator configured")
)

// Server is the CAPTCHA core as seen by the form layer. It mints challenges,
// registers them with the store and validates answers against them.
type Server struct {
	mux       *http.ServeMux
	store     store.Interface
	generator *challenge.Generator
	opts      Options
}

// IssueChallenge mints a challenge, registers it and returns what the form
// needs to show it. No challenge is issued when err is not nil.
func (s *Server) IssueChallenge(ctx context.Context) (id, image string, err error) {
	chall, err := s.generator.New()
	if err != nil {
		return "", "", fmt.Errorf("lib: can't generate challenge: %w", err)
	}

	if err := s.store.Insert(ctx, chall); err != nil {
		return "", "", fmt.Errorf("lib: can't store challenge: %w", err)
	}

	challengesIssued.Inc()
	slog.Debug("issued challenge", "challenge", internal.FastHash(chall.ID))

	return chall.ID, chall.Image, nil
}

// ValidateChallenge checks answer against the challenge issued as id. The
// challenge is used up whatever the result, including for an empty answer.
// The answer is compared as given, apart from case.
//
// Answers that must be rejected come back as a *challenge.Error wrapping
// challenge.ErrNotFound, challenge.ErrExpired or challenge.ErrInvalid. A
// request without an id wraps challenge.ErrMissingField. Any other error
// means the store failed.
func (s *Server) ValidateChallenge(ctx context.Context, id, answer string) error {
	id = strings.TrimSpace(id)

	if id == "" {
		challengesValidated.WithLabelValues(challenge.Result(challenge.ErrMissingField)).Inc()
		cerr := challenge.NewError("validate", "invalid_request", fmt.Errorf("%w: id is required", challenge.ErrMissingField))
		cerr.StatusCode = http.StatusBadRequest
		return cerr
	}

	err := s.store.Validate(ctx, id, answer)
	challengesValidated.WithLabelValues(challenge.Result(err)).Inc()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, challenge.ErrNotFound), errors.Is(err, challenge.ErrExpired), errors.Is(err, challenge.ErrInvalid):
		return challenge.NewError("validate", challenge.PublicFailure, err)
	default:
		return fmt.Errorf("lib: can't validate challenge: %w", err)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close releases the store when it holds resources such as a database file or
// a client connection. Call it after the HTTP server has finished shutting
// down.
func (s *Server) Close() error {
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
