// Package challengetest builds challenges with known codes for tests.
package challengetest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/uvensys/formcaptcha/lib/challenge"
)

// Renderer is a challenge.Renderer that skips drawing. Every call returns a
// different payload, so every challenge gets a different ID.
type Renderer struct{}

func (Renderer) Render(code string) ([]byte, error) {
	return []byte(code + ":" + uuid.Must(uuid.NewV7()).String()), nil
}

// New returns a fresh challenge for code.
func New(t *testing.T, code string) *challenge.Challenge {
	t.Helper()

	chall, err := challenge.NewGenerator(Renderer{}).Generate(code)
	if err != nil {
		t.Fatal(err)
	}

	return chall
}
