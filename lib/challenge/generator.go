package challenge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/internal"
)

const saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var ErrNoRenderer = errors.New("challenge: generator has no renderer")

// Renderer draws a code into a distorted image and returns it PNG encoded.
type Renderer interface {
	Render(code string) ([]byte, error)
}

// Generator mints new challenges. The zero value is not usable, a Renderer is
// required.
type Generator struct {
	Renderer Renderer

	// Alphabet and Length default to formcaptcha.CodeAlphabet and
	// formcaptcha.CodeLength when empty.
	Alphabet string
	Length   int

	now func() time.Time
}

func NewGenerator(r Renderer) *Generator {
	return &Generator{
		Renderer: r,
		Alphabet: formcaptcha.CodeAlphabet,
		Length:   formcaptcha.CodeLength,
	}
}

// New draws a random code and turns it into a challenge.
//
// An error means no usable image could be produced. Callers must not fall back
// to issuing anything else.
func (g *Generator) New() (*Challenge, error) {
	code, err := g.Code()
	if err != nil {
		return nil, err
	}

	return g.Generate(code)
}

// Code draws a random code from the generator's alphabet.
func (g *Generator) Code() (string, error) {
	alphabet := g.Alphabet
	if alphabet == "" {
		alphabet = formcaptcha.CodeAlphabet
	}

	length := g.Length
	if length <= 0 {
		length = formcaptcha.CodeLength
	}

	code, err := randomString(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("challenge: can't draw code: %w", err)
	}

	return code, nil
}

// Generate builds a challenge for a known code.
func (g *Generator) Generate(code string) (*Challenge, error) {
	if g.Renderer == nil {
		return nil, ErrNoRenderer
	}

	code = strings.ToUpper(code)

	data, err := g.Renderer.Render(code)
	if err != nil {
		return nil, fmt.Errorf("challenge: can't render image: %w", err)
	}

	if len(data) == 0 {
		return nil, errors.New("challenge: renderer returned an empty image")
	}

	image := base64.StdEncoding.EncodeToString(data)

	salt, err := randomString(saltAlphabet, formcaptcha.SaltLength)
	if err != nil {
		return nil, fmt.Errorf("challenge: can't generate salt: %w", err)
	}

	now := time.Now
	if g.now != nil {
		now = g.now
	}

	return &Challenge{
		ID:         internal.SHA512sum(image),
		Commitment: Commit(salt, code),
		Salt:       salt,
		IssuedAt:   now(),
		Image:      image,
	}, nil
}

// Commit computes the commitment for code under salt.
func Commit(salt, code string) string {
	return internal.SHA512sum(salt + strings.ToUpper(code))
}

// Verify reports whether answer is the code c was generated for. Case does not
// matter.
func Verify(c *Challenge, answer string) bool {
	if c == nil {
		return false
	}

	calculated := Commit(c.Salt, answer)

	return subtle.ConstantTimeCompare([]byte(calculated), []byte(c.Commitment)) == 1
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))

	var sb strings.Builder
	sb.Grow(n)

	for range n {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(alphabet[idx.Int64()])
	}

	return sb.String(), nil
}
