package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uvensys/formcaptcha/internal"
	"github.com/uvensys/formcaptcha/lib"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/challenge/render"

	"sigs.k8s.io/yaml"
)

var (
	configFname  = flag.String("config-fname", "", "full path to formcaptcha configuration file (defaults to the built-in configuration)")
	count        = flag.Int("count", 10, "number of challenge images to render")
	fixedCode    = flag.String("code", "", "if set, render this code in every image instead of random ones")
	outputDir    = flag.String("output", "", "directory to write images and the manifest to")
	outputFormat = flag.String("format", "yaml", "manifest format: yaml or json")
	helpFlag     = flag.Bool("help", false, "show help")
)

var ErrUnsupportedFormat = errors.New("unsupported output format (use yaml or json)")

// Entry describes one rendered image in the manifest.
type Entry struct {
	ID       string    `json:"id"`
	File     string    `json:"file"`
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issuedAt"`
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s [options] -output <directory>\n\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nExamples:")
		fmt.Fprintln(os.Stderr, "  # Render ten images with the built-in settings")
		fmt.Fprintln(os.Stderr, "  captchagen -output ./samples")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "  # Compare distortion settings on one code")
		fmt.Fprintln(os.Stderr, "  captchagen -config-fname noisy.yaml -code AB2349 -count 5 -output ./noisy -format json")
		os.Exit(2)
	}
}

func main() {
	flag.Parse()

	if len(flag.Args()) > 0 || *helpFlag || *outputDir == "" {
		flag.Usage()
	}

	if err := validateFormat(*outputFormat); err != nil {
		log.Fatal(err)
	}

	cfg, err := lib.LoadConfigOrDefault(*configFname)
	if err != nil {
		log.Fatalf("can't parse configuration file: %v", err)
	}

	renderer, err := render.New(cfg.Challenge)
	if err != nil {
		log.Fatalf("can't set up renderer: %v", err)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	entries, err := generate(challenge.NewGenerator(renderer), *count, *fixedCode, *outputDir)
	if err != nil {
		log.Fatalf("failed to render challenges: %v", err)
	}

	manifestName := filepath.Join(*outputDir, "manifest."+strings.ToLower(*outputFormat))
	fout, err := os.Create(manifestName)
	if err != nil {
		log.Fatalf("failed to create manifest: %v", err)
	}
	defer fout.Close()

	if err := writeManifest(fout, entries, *outputFormat); err != nil {
		log.Fatalf("failed to write manifest: %v", err)
	}

	fmt.Printf("Rendered %d challenges, manifest written to %s\n", len(entries), manifestName)
}

// generate renders n challenges into dir. Every image uses code when it is
// not empty.
func generate(g *challenge.Generator, n int, code, dir string) ([]Entry, error) {
	entries := make([]Entry, 0, n)

	for i := range n {
		c := strings.ToUpper(code)
		if c == "" {
			var err error
			c, err = g.Code()
			if err != nil {
				return nil, err
			}
		}

		chall, err := g.Generate(c)
		if err != nil {
			return nil, err
		}

		data, err := base64.StdEncoding.DecodeString(chall.Image)
		if err != nil {
			return nil, fmt.Errorf("[unexpected] image is not base64: %w", err)
		}

		fname := fmt.Sprintf("%03d-%s.png", i, internal.FastHash(chall.ID))
		if err := os.WriteFile(filepath.Join(dir, fname), data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", fname, err)
		}

		entries = append(entries, Entry{
			ID:       chall.ID,
			File:     fname,
			Code:     c,
			IssuedAt: chall.IssuedAt,
		})
	}

	return entries, nil
}

func validateFormat(format string) error {
	switch strings.ToLower(format) {
	case "yaml", "json":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func writeManifest(w io.Writer, entries []Entry, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	var output []byte
	var err error

	switch strings.ToLower(format) {
	case "yaml":
		output, err = yaml.Marshal(entries)
	case "json":
		output, err = json.MarshalIndent(entries, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	_, err = w.Write(output)
	return err
}
