package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/smartkart/internal/capture"
	"github.com/zombor/smartkart/internal/cart"
	"github.com/zombor/smartkart/internal/control"
	"github.com/zombor/smartkart/internal/product"
	"github.com/zombor/smartkart/internal/scanning"
	"github.com/zombor/smartkart/internal/speech"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("smartkart")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "smartkart.db", "History database file path")
		cachePath      = fs.StringLong("cache-db", "smartkart-cache.db", "Product cache database file path (empty disables caching)")
		cacheTTL       = fs.DurationLong("cache-ttl", 7*24*time.Hour, "How long found products stay cached")
		storagePath    = fs.StringLong("storage", "./records", "Directory for added item records")
		framesDir      = fs.StringLong("frames-dir", "", "Spool directory watched for camera frames (optional)")
		framesSettle   = fs.DurationLong("frames-settle", capture.DefaultSettle, "How long a spooled frame must go unwritten before it is read")
		frameQueue     = fs.IntLong("frame-queue", 8, "Maximum frames waiting to be decoded")
		decoderType    = fs.StringLong("decoder", "zxing", "Barcode decoder: 'zxing', 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		offURL         = fs.StringLong("off-url", product.DefaultOpenFoodFactsURL, "Open Food Facts base URL")
		offRate        = fs.IntLong("off-rate", 100, "Open Food Facts lookups allowed per minute")
		minHits        = fs.IntLong("min-hits", scanning.DefaultMinConsecutiveHits, "Consecutive frames a barcode must appear in")
		maxMisses      = fs.IntLong("max-misses", scanning.DefaultMaxNoDetectionFrames, "Empty frames before a barcode is considered gone")
		barcodeTimeout = fs.DurationLong("barcode-timeout", scanning.DefaultBarcodeTimeout, "How long a verified barcode is suppressed while held")
		confirmTimeout = fs.DurationLong("confirm-timeout", cart.DefaultConfirmTimeout, "How long remove and clear wait for confirmation")
		ttsCommand     = fs.StringLong("tts-command", "", "Speech command, text is appended (e.g. 'espeak-ng -s 150'); empty logs instead")
		keyboard       = fs.BoolLong("keyboard", "Read control keys from stdin")
		keymapPath     = fs.StringLong("keymap", "", "YAML keymap file for --keyboard (optional)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logJSON        = fs.BoolLong("log-json", "Log as JSON")
		_              = fs.StringLong("config", "", "Config file (flag value pairs, one per line)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SMARTKART"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*logLevel, *logJSON); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := cart.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := cart.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize product lookup
	var resolver product.Resolver = product.NewOpenFoodFacts(*offURL, *offRate)
	if *cachePath != "" {
		cache, err := product.NewBoltCache(*cachePath, resolver, *cacheTTL)
		if err != nil {
			slog.Error("Failed to initialize product cache", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		resolver = cache
	}

	decoder, err := newDecoder(*decoderType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize decoder", "type", *decoderType, "error", err)
		os.Exit(1)
	}
	defer decoder.Close()

	// Initialize speech
	var engine speech.Engine = speech.LogEngine{}
	if *ttsCommand != "" {
		cmdEngine, err := speech.NewCommandEngine(*ttsCommand)
		if err != nil {
			slog.Error("Failed to initialize speech", "error", err)
			os.Exit(1)
		}
		engine = cmdEngine
	}
	announcer := speech.NewQueue(engine, speech.DefaultTranscriptSize)
	defer announcer.Close()

	recorder := cart.NewRecorder(db, store)
	session := cart.NewSession(announcer, recorder, *confirmTimeout)

	frames := capture.NewQueue(*frameQueue)
	verifier := scanning.NewVerifier(scanning.VerifierConfig{
		MinConsecutiveHits:   *minHits,
		MaxNoDetectionFrames: *maxMisses,
		BarcodeTimeout:       *barcodeTimeout,
	})
	loop := capture.NewLoop(frames, decoder, verifier, resolver, session)

	server := cart.NewServer(cart.ServerDeps{
		Session:    session,
		Recorder:   recorder,
		Resolver:   resolver,
		Frames:     frames,
		Transcript: announcer,
	}, cart.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%d", *port)
	g.Go(func() error {
		return server.Start(ctx, addr)
	})
	g.Go(func() error {
		return loop.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		frames.Close()
		return nil
	})

	if *framesDir != "" {
		watcher, err := capture.NewDirWatcherWithDeps(*framesDir, frames, *framesSettle)
		if err != nil {
			slog.Error("Failed to initialize frames directory", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if *keyboard {
		keymap, err := control.LoadKeymap(*keymapPath)
		if err != nil {
			slog.Error("Failed to load keymap", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return control.NewKeyboard(keymap, session).Run(ctx, os.Stdin)
		})
	}

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}
	announcer.SpeakAsync("SmartKart ready. Start scanning.", false)

	if err := g.Wait(); err != nil {
		slog.Error("Shutting down after error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutting down...")
}

func setupLogging(level string, asJSON bool) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func newDecoder(kind, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.Decoder, error) {
	switch kind {
	case "zxing":
		slog.Info("Initializing ZXing decoder...")
		return scanning.NewZXing(), nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini decoder...", "model", geminiModel)
		return scanning.NewGemini(apiKey, geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama decoder...", "url", ollamaURL, "model", ollamaModel)
		return scanning.NewOllama(ollamaURL, ollamaModel)
	default:
		return nil, fmt.Errorf("invalid decoder type %q, expected zxing, gemini or ollama", kind)
	}
}
