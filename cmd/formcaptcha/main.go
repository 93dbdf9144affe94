package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uvensys/formcaptcha"
	"github.com/uvensys/formcaptcha/data"
	"github.com/uvensys/formcaptcha/internal"
	"github.com/uvensys/formcaptcha/lib"
)

var (
	basePrefix         = flag.String("base-prefix", "", "base prefix (root URL) the application is served under e.g. /contact")
	bind               = flag.String("bind", ":8923", "network address to bind HTTP to")
	bindNetwork        = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	configFname        = flag.String("config-fname", "", "full path to formcaptcha configuration file (defaults to a sensible built-in configuration)")
	extractConfig      = flag.String("extract-config", "", "if set, write the built-in configuration to the specified folder and exit")
	forcedLanguage     = flag.String("forced-language", "", "if set, this language is being used instead of the one from the request's Accept-Language header")
	healthcheck        = flag.Bool("healthcheck", false, "run a health check against formcaptcha")
	metricsBind        = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	socketMode         = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	slogLevel          = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	versionFlag        = flag.Bool("version", false, "print formcaptcha version")
)

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + formcaptcha.BasePrefix + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string, error) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse bind URL: %w", err)
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path, nil
	case "tcp", "http", "https":
		return "tcp", bindUri.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address)
	}
}

func formatAddress(network, address string) string {
	switch network {
	case "unix":
		return "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :4259
			return "http://localhost" + address
		}
		return "http://" + address
	default:
		return fmt.Sprintf(`(%s) %s`, network, address)
	}
}

func setupListener(network string, address string) (net.Listener, string) {
	if network == "" {
		var err error
		network, address, err = parseBindNetFromAddr(address)
		if err != nil {
			log.Fatal(err)
		}
	}

	formattedAddress := formatAddress(network, address)

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	// additional permission handling for unix sockets
	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		err = os.Chmod(address, os.FileMode(mode))
		if err != nil {
			err := listener.Close()
			if err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func validateBasePrefix(prefix string) error {
	switch {
	case prefix == "":
		return nil
	case !strings.HasPrefix(prefix, "/"):
		return fmt.Errorf("[misconfiguration] base-prefix must start with a slash, eg: /%s", prefix)
	case strings.HasSuffix(prefix, "/"):
		return errors.New("[misconfiguration] base-prefix must not end with a slash")
	default:
		return nil
	}
}

// applyBasePrefix validates prefix and makes it the global base prefix, which
// both the metrics listener and the health check build their paths from.
func applyBasePrefix(prefix string) error {
	if err := validateBasePrefix(prefix); err != nil {
		return err
	}

	formcaptcha.BasePrefix = prefix
	return nil
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("formcaptcha", formcaptcha.Version)
		return
	}

	if err := applyBasePrefix(*basePrefix); err != nil {
		log.Fatal(err)
	}

	if *healthcheck {
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	internal.InitSlog(*slogLevel)

	if *extractConfig != "" {
		if err := extractEmbedFS(data.Config, ".", *extractConfig); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Extracted embedded configuration to %s\n", *extractConfig)
		return
	}

	cfg, err := lib.LoadConfigOrDefault(*configFname)
	if err != nil {
		log.Fatalf("can't parse configuration file: %v", err)
	}

	formcaptcha.ForcedLanguage = *forcedLanguage

	// install signal handler
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := lib.OptionsFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("can't set up challenges: %v", err)
	}
	opts.BasePrefix = *basePrefix

	s, err := lib.New(opts)
	if err != nil {
		log.Fatalf("can't construct lib.Server: %v", err)
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	srv := http.Server{Handler: s, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", formcaptcha.Version,
		"base-prefix", *basePrefix,
		"store", cfg.Store.Backend,
		"challenge", cfg.Challenge,
		"challenge-expiry", formcaptcha.ChallengeExpiry,
		"forced-language", *forcedLanguage,
	)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	// Serve returns as soon as Shutdown starts; in-flight requests still need the store.
	<-drained
	if err := s.Close(); err != nil {
		slog.Error("can't close challenge store", "err", err)
	}

	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle(formcaptcha.BasePrefix+"/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func extractEmbedFS(fsys embed.FS, root string, destDir string) error {
	return fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		destPath := filepath.Join(destDir, root, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0o700)
		}

		embeddedData, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}

		return os.WriteFile(destPath, embeddedData, 0o644)
	})
}
