package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/auditmos/blackbox/clock"
	"github.com/auditmos/blackbox/collector"
	"github.com/auditmos/blackbox/instrument"
	"github.com/auditmos/blackbox/logging"
	"github.com/auditmos/blackbox/storage"
	"github.com/auditmos/blackbox/transport"
	"github.com/auditmos/blackbox/viewer"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const closeTimeout = 10 * time.Second

func main() {
	app := NewApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func NewApp() *cli.App {
	return &cli.App{
		Name:    "blackbox",
		Usage:   "capture, buffer and ship structured logs",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Commands: []*cli.Command{
			agentCommand(),
			collectorCommand(),
		},
	}
}

func agentCommand() *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "log lines from stdin or a file and forward them to a collector",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML or JSON logger configuration",
				EnvVars: []string{"BLACKBOX_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "read lines from this file instead of stdin",
			},
			&cli.StringFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "project id",
				EnvVars: []string{"BLACKBOX_PROJECT"},
			},
			&cli.StringFlag{
				Name:    "collector",
				Usage:   "collector URL (http, https, ws, wss, amqp or amqps)",
				EnvVars: []string{"BLACKBOX_COLLECTOR"},
			},
			&cli.StringFlag{
				Name:    "level",
				Aliases: []string{"l"},
				Usage:   "minimum level: DEBUG, INFO, WARN, ERROR or FATAL",
				EnvVars: []string{"BLACKBOX_LEVEL"},
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "entries per delivered batch",
				EnvVars: []string{"BLACKBOX_BATCH_SIZE"},
			},
			&cli.DurationFlag{
				Name:    "flush-interval",
				Usage:   "time between scheduled flushes",
				EnvVars: []string{"BLACKBOX_FLUSH_INTERVAL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "collector API token",
				EnvVars: []string{"BLACKBOX_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "viewer-addr",
				Value:   "127.0.0.1:4050",
				Usage:   "live viewer listen address (empty to disable)",
				EnvVars: []string{"BLACKBOX_VIEWER_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "echo",
				Usage:   "echo accepted entries to stderr",
				EnvVars: []string{"BLACKBOX_ECHO"},
			},
			&cli.DurationFlag{
				Name:    "runtime-interval",
				Usage:   "log a runtime snapshot at this interval (0 disables)",
				EnvVars: []string{"BLACKBOX_RUNTIME_INTERVAL"},
			},
			&cli.BoolFlag{
				Name:  "linger",
				Usage: "keep the viewer running after input ends, until interrupted",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "write diagnostics as JSON lines",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := agentConfig(c)
			if err != nil {
				return err
			}
			return runAgent(c.Context, cfg, agentOptions{
				File:            c.String("file"),
				ViewerAddr:      c.String("viewer-addr"),
				RuntimeInterval: c.Duration("runtime-interval"),
				Linger:          c.Bool("linger"),
				JSON:            c.Bool("json"),
			})
		},
	}
}

// agentConfig loads --config and lets explicitly set flags override it.
func agentConfig(c *cli.Context) (logging.Config, error) {
	var cfg logging.Config
	if path := c.String("config"); path != "" {
		loaded, err := logging.LoadConfig(path)
		if err != nil {
			return logging.Config{}, err
		}
		cfg = loaded
	}

	if c.IsSet("project") {
		cfg.ProjectID = c.String("project")
	}
	if c.IsSet("collector") {
		cfg.CollectorURL = c.String("collector")
	}
	if c.IsSet("level") {
		cfg.Level = c.String("level")
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("flush-interval") {
		cfg.FlushIntervalMS = int(c.Duration("flush-interval").Milliseconds())
	}
	if c.IsSet("token") {
		cfg.APIToken = c.String("token")
	}
	if c.IsSet("echo") {
		cfg.Echo = c.Bool("echo")
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = "default"
	}
	return cfg, nil
}

type agentOptions struct {
	File            string
	ViewerAddr      string
	RuntimeInterval time.Duration
	Linger          bool
	JSON            bool
	Input           io.Reader
}

func newConsole(jsonOutput bool) *logging.Console {
	var formatter logging.Formatter
	if jsonOutput {
		formatter = &logging.JSONFormatter{}
	}
	return logging.NewConsole(logging.ConsoleConfig{Output: os.Stderr, Formatter: formatter})
}

func runAgent(parent context.Context, cfg logging.Config, opts agentOptions) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	input := opts.Input
	if input == nil {
		input = os.Stdin
	}
	if opts.File != "" {
		f, err := os.Open(opts.File)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		input = f
	}

	console := newConsole(opts.JSON)
	logger := logging.NewLogger(logging.LoggerConfig{
		Console:      console,
		NewTransport: transport.Factory(transport.Options{Console: console}),
	})
	logger.Init(cfg)
	defer closeLogger(logger, console)

	slog.SetDefault(slog.New(instrument.NewSlogHandler(logger, slog.LevelDebug)))

	if opts.ViewerAddr != "" {
		srv, err := viewer.NewServer(viewer.ServerConfig{
			Addr:   opts.ViewerAddr,
			Source: logger,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("init viewer: %w", err)
		}
		srv.SetReadyCallback(func(addr string) {
			fmt.Fprintf(os.Stderr, "Viewer: http://%s\n", addr)
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				console.Error("Viewer stopped", logging.WithError(err))
			}
		}()
	}

	if opts.RuntimeInterval > 0 {
		go instrument.AutoCollect(ctx, logger, clock.Real(), opts.RuntimeInterval)
	}

	if err := pumpLines(ctx, input, logger); err != nil {
		return err
	}

	if opts.Linger && opts.ViewerAddr != "" {
		<-ctx.Done()
	}
	return nil
}

func closeLogger(logger *logging.StandardLogger, console *logging.Console) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := logger.Close(ctx); err != nil {
		console.Warn("Logger closed with undelivered entries", logging.WithError(err))
	}
}

// pumpLines logs every non-empty line of r until EOF or ctx is done.
func pumpLines(ctx context.Context, r io.Reader, logger logging.Logger) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			logLine(logger, line)
		}
	}
}

var levelPrefix = regexp.MustCompile(`^\s*(?:\[(?i:(debug|info|warn|warning|error|fatal))\]|(?i:(debug|info|warn|warning|error|fatal)):)\s*`)

// ParseLine splits an optional "LEVEL:" or "[level]" prefix off line.
// Lines without a prefix are INFO.
func ParseLine(line string) (logging.Level, string) {
	m := levelPrefix.FindStringSubmatch(line)
	if m == nil {
		return logging.INFO, strings.TrimSpace(line)
	}
	name := m[1]
	if name == "" {
		name = m[2]
	}
	return logging.ParseLevel(name), strings.TrimSpace(line[len(m[0]):])
}

func logLine(logger logging.Logger, line string) {
	level, msg := ParseLine(line)
	if msg == "" {
		return
	}
	switch level {
	case logging.DEBUG:
		logger.Debug(msg)
	case logging.WARN:
		logger.Warn(msg)
	case logging.ERROR:
		logger.Error(msg)
	case logging.FATAL:
		logger.Fatal(msg)
	default:
		logger.Info(msg)
	}
}

func collectorCommand() *cli.Command {
	return &cli.Command{
		Name:  "collector",
		Usage: "run a development collector backed by SQLite",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8787,
				Usage:   "port to listen on",
				EnvVars: []string{"BLACKBOX_PORT"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "SQLite database path (default: ~/.blackbox/collector.db)",
				EnvVars: []string{"BLACKBOX_DB"},
			},
			&cli.StringSliceFlag{
				Name:  "token",
				Usage: "project token as project=secret (repeatable)",
			},
			&cli.StringFlag{
				Name:    "tokens-json",
				Usage:   `project tokens as a JSON object {"project":"secret"}`,
				EnvVars: []string{"BLACKBOX_PROJECT_TOKENS"},
			},
			&cli.StringSliceFlag{
				Name:  "redact-key",
				Usage: "extra payload key to mask on ingest (repeatable)",
			},
			&cli.IntFlag{
				Name:  "rate-limit",
				Usage: "requests per minute per project",
			},
			&cli.Int64Flag{
				Name:  "max-batch-bytes",
				Usage: "largest accepted request body",
			},
			&cli.StringFlag{
				Name:  "jsonl",
				Usage: `mirror stored entries as JSON lines to this file ("-" for stdout)`,
			},
			&cli.DurationFlag{
				Name:  "retention",
				Usage: "delete entries older than this (0 keeps everything)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "write diagnostics as JSON lines",
			},
		},
		Action: func(c *cli.Context) error {
			tokens, err := parseTokens(c.StringSlice("token"), c.String("tokens-json"))
			if err != nil {
				return err
			}
			dbPath := c.String("db")
			if dbPath == "" {
				if dbPath, err = defaultDBPath(); err != nil {
					return fmt.Errorf("get db path: %w", err)
				}
			}
			return runCollector(c.Context, collectorOptions{
				Port:          c.Int("port"),
				DBPath:        dbPath,
				Tokens:        tokens,
				RedactKeys:    c.StringSlice("redact-key"),
				RateLimit:     c.Int("rate-limit"),
				MaxBatchBytes: c.Int64("max-batch-bytes"),
				JSONLPath:     c.String("jsonl"),
				Retention:     c.Duration("retention"),
				JSON:          c.Bool("json"),
			})
		},
	}
}

func defaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".blackbox", "collector.db"), nil
}

// parseTokens merges project=secret pairs with a JSON object. Pairs win
// when a project appears in both.
func parseTokens(pairs []string, jsonTokens string) (map[string]string, error) {
	tokens := map[string]string{}
	if strings.TrimSpace(jsonTokens) != "" {
		if err := json.Unmarshal([]byte(jsonTokens), &tokens); err != nil {
			return nil, fmt.Errorf("parse project tokens: %w", err)
		}
	}
	for _, pair := range pairs {
		project, secret, ok := strings.Cut(pair, "=")
		project = strings.TrimSpace(project)
		secret = strings.TrimSpace(secret)
		if !ok || project == "" || secret == "" {
			return nil, fmt.Errorf("invalid token %q: want project=secret", pair)
		}
		tokens[project] = secret
	}
	return tokens, nil
}

type collectorOptions struct {
	Port          int
	DBPath        string
	Tokens        map[string]string
	RedactKeys    []string
	RateLimit     int
	MaxBatchBytes int64
	JSONLPath     string
	Retention     time.Duration
	JSON          bool
	OnReady       func(addr string)
}

func runCollector(parent context.Context, opts collectorOptions) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	console := newConsole(opts.JSON)
	logger := logging.NewLogger(logging.LoggerConfig{Console: console})
	logger.Init(logging.Config{ProjectID: "collector", Level: "INFO", Echo: true})
	defer closeLogger(logger, console)

	db, err := storage.OpenFileDB(opts.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.SeedRateLimits(db); err != nil {
		return fmt.Errorf("seed rate_limits: %w", err)
	}
	limitRepo := storage.NewSQLiteRateLimitRepo(db)
	if opts.RateLimit > 0 || opts.MaxBatchBytes > 0 {
		limits, err := limitRepo.Get()
		if err != nil {
			return fmt.Errorf("get rate_limits: %w", err)
		}
		if opts.RateLimit > 0 {
			limits.RequestsPerMin = opts.RateLimit
		}
		if opts.MaxBatchBytes > 0 {
			limits.MaxBatchBytes = opts.MaxBatchBytes
		}
		if err := limitRepo.Update(*limits); err != nil {
			return fmt.Errorf("update rate_limits: %w", err)
		}
	}

	tokenRepo := storage.NewSQLiteTokenRepo(db)
	if err := tokenRepo.Seed(opts.Tokens); err != nil {
		return fmt.Errorf("seed tokens: %w", err)
	}

	ruleRepo := storage.NewSQLiteRedactRuleRepo(db)
	if err := ruleRepo.Seed(); err != nil {
		return fmt.Errorf("seed redact rules: %w", err)
	}
	for _, key := range opts.RedactKeys {
		if _, err := ruleRepo.Create(key); err != nil {
			logger.Warn("Redact key not added", logging.WithField("key", key), logging.WithError(err))
		}
	}

	var sink storage.BatchSink
	if opts.JSONLPath != "" {
		w, closeFn, err := openJSONL(opts.JSONLPath)
		if err != nil {
			return err
		}
		defer closeFn()
		sink = storage.NewJSONLWriter(w)
	}

	batchRepo := storage.NewSQLiteBatchRepo(db)
	srv, err := collector.NewServer(collector.ServerConfig{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Batches: batchRepo,
		Tokens:  tokenRepo,
		Limits:  limitRepo,
		Rules:   ruleRepo,
		Sink:    sink,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("init collector: %w", err)
	}

	srv.SetReadyCallback(func(addr string) {
		fmt.Fprintf(os.Stderr, "Collector ready on %s (db %s)\n", addr, opts.DBPath)
		if opts.OnReady != nil {
			opts.OnReady(addr)
		}
	})

	if opts.Retention > 0 {
		go pruneLoop(ctx, batchRepo, clock.Real(), opts.Retention, logger)
	}

	return srv.Start(ctx)
}

func openJSONL(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open jsonl: %w", err)
	}
	return f, f.Close, nil
}

type pruner interface {
	Prune(olderThan time.Time) (int64, error)
}

// pruneLoop removes stored entries older than retention, checking at a
// tenth of the retention period but at most hourly.
func pruneLoop(ctx context.Context, repo pruner, clk clock.Clock, retention time.Duration, logger logging.Logger) {
	every := min(retention/10, time.Hour)
	if every <= 0 {
		every = retention
	}
	ticker := clk.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.Prune(now.Add(-retention))
			if err != nil {
				logger.Error("Prune failed", logging.WithError(err))
				continue
			}
			if n > 0 {
				logger.Info("Pruned entries", logging.WithField("count", n))
			}
		}
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
