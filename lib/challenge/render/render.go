// Package render draws challenge codes into distorted PNG images.
//
// Glyphs are drawn by base64Captcha on a plain background. The result is
// then run through three filters in order: additive noise, dot clutter and a
// horizontal sine wave warp.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand/v2"

	"github.com/mojocn/base64Captcha"
	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/lib/config"
)

var background = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Fonts are the base64Captcha embedded fonts glyphs are drawn with.
var Fonts = []string{"Comismsh.ttf", "chromohv.ttf", "RitaSmith.ttf"}

// Renderer implements challenge.Renderer.
type Renderer struct {
	rules  config.ChallengeRules
	driver *base64Captcha.DriverString

	// newRand returns the source of randomness for one image.
	newRand func() *rand.Rand
}

func New(rules config.ChallengeRules) (*Renderer, error) {
	if err := rules.Valid(); err != nil {
		return nil, err
	}

	bg := background
	driver := base64Captcha.NewDriverString(
		rules.Height,
		rules.Width,
		0, // noise is added by our own filters
		0,
		formcaptcha.CodeLength,
		formcaptcha.CodeAlphabet,
		&bg,
		nil,
		Fonts,
	).ConvertFonts()

	return &Renderer{
		rules:  rules,
		driver: driver,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
	}, nil
}

// Render draws code and returns the distorted image PNG encoded.
func (r *Renderer) Render(code string) ([]byte, error) {
	item, err := r.driver.DrawCaptcha(code)
	if err != nil {
		return nil, fmt.Errorf("render: can't draw glyphs: %w", err)
	}

	var buf bytes.Buffer
	if _, err := item.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render: can't encode glyphs: %w", err)
	}

	src, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("render: can't decode glyphs: %w", err)
	}

	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	rng := r.newRand()

	Noise(img, r.rules.Noise, rng)
	Dots(img, r.rules.Dots, rng)
	img = Wave(img, r.rules.WaveAmplitude, r.rules.WaveFrequency, rng)

	buf.Reset()
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("render: can't encode image: %w", err)
	}

	return buf.Bytes(), nil
}
