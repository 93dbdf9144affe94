package render

import (
	"image"
	"image/color"
	"math"
	"math/rand/v2"
)

// noiseSpread is the largest change noise makes to one color channel.
const noiseSpread = 64

// Noise shifts the color of a level share of pixels by a random amount.
func Noise(img *image.RGBA, level float64, rng *rand.Rand) {
	if level <= 0 {
		return
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if rng.Float64() >= level {
				continue
			}

			c := img.RGBAAt(x, y)
			delta := rng.IntN(2*noiseSpread+1) - noiseSpread
			img.SetRGBA(x, y, color.RGBA{
				R: clamp(int(c.R) + delta),
				G: clamp(int(c.G) + delta),
				B: clamp(int(c.B) + delta),
				A: c.A,
			})
		}
	}
}

// Dots draws n filled circles in random dark colors at random places.
func Dots(img *image.RGBA, n int, rng *rand.Rand) {
	b := img.Bounds()

	for range n {
		cx := b.Min.X + rng.IntN(b.Dx())
		cy := b.Min.Y + rng.IntN(b.Dy())
		r := 1 + rng.IntN(3)
		c := color.RGBA{
			R: uint8(rng.IntN(160)),
			G: uint8(rng.IntN(160)),
			B: uint8(rng.IntN(160)),
			A: 255,
		}

		for y := cy - r; y <= cy+r; y++ {
			for x := cx - r; x <= cx+r; x++ {
				if (x-cx)*(x-cx)+(y-cy)*(y-cy) > r*r {
					continue
				}
				if !(image.Point{X: x, Y: y}).In(b) {
					continue
				}
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// Wave shifts every column of img up or down along a sine curve that runs
// frequency full periods across the width. Pixels shifted in from outside
// the image are left white. img is not modified.
func Wave(img *image.RGBA, amplitude, frequency float64, rng *rand.Rand) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	phase := rng.Float64() * 2 * math.Pi

	for x := b.Min.X; x < b.Max.X; x++ {
		t := float64(x-b.Min.X) / float64(b.Dx())
		shift := int(math.Round(amplitude * math.Sin(2*math.Pi*frequency*t+phase)))

		for y := b.Min.Y; y < b.Max.Y; y++ {
			sy := y - shift
			if sy < b.Min.Y || sy >= b.Max.Y {
				out.SetRGBA(x, y, white)
				continue
			}
			out.SetRGBA(x, y, img.RGBAAt(x, sy))
		}
	}

	return out
}

func clamp(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
