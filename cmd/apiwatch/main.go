// Command apiwatch records which API response values reach the rendered
// page, and how fast.
//
// Usage:
//
//	apiwatch -url https://example.com              # record one page, print the report
//	apiwatch -config apiwatch.yaml                 # record the configured pages
//	apiwatch -http :8086                           # serve the control API
//	apiwatch -mcp                                  # serve MCP tools over stdio
//	apiwatch -check page.html -responses r.json    # offline check, no browser
//
// Settings may also come from the environment or a .env file:
// APIWATCH_DB, APIWATCH_HTTP_ADDR, APIWATCH_REMOTE, APIWATCH_LOG_LEVEL.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/valwatch/apiwatch"
	"github.com/hazyhaar/valwatch/apiwatch/report"
)

const version = "0.1.0"

type flags struct {
	configPath  string
	singleURL   string
	httpAddr    string
	mcpStdio    bool
	checkHTML   string
	responses   string
	dbPath      string
	remote      string
	logLevel    string
	out         string
	domains     string
	timeout     time.Duration
	thresholdMs float64
	visitLimit  int
}

func main() {
	if err := loadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "apiwatch: .env:", err)
	}

	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to apiwatch.yaml config file")
	flag.StringVar(&f.singleURL, "url", "", "record a single URL and print the report")
	flag.StringVar(&f.httpAddr, "http", env("APIWATCH_HTTP_ADDR", ""), "serve the HTTP control API on this address")
	flag.BoolVar(&f.mcpStdio, "mcp", false, "serve MCP tools over stdio")
	flag.StringVar(&f.checkHTML, "check", "", "offline mode: rendered HTML file to check responses against")
	flag.StringVar(&f.responses, "responses", "", "offline mode: JSON file with [{url, body}] responses")
	flag.StringVar(&f.dbPath, "db", env("APIWATCH_DB", ""), "SQLite database for runs and records")
	flag.StringVar(&f.remote, "remote", env("APIWATCH_REMOTE", ""), "ws:// URL of a running Chrome")
	flag.StringVar(&f.logLevel, "log-level", env("APIWATCH_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.StringVar(&f.out, "out", "", "write the report to this file instead of stdout")
	flag.StringVar(&f.domains, "domains", "", "comma-separated domain allow-list")
	flag.DurationVar(&f.timeout, "timeout", 0, "per-response deadline (default 5s)")
	flag.Float64Var(&f.thresholdMs, "threshold-ms", -1, "also report values slower than this many ms (negative disables)")
	flag.IntVar(&f.visitLimit, "visit-limit", 30, "page visits per client per minute on the HTTP API (0 disables)")
	flag.Parse()

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout carries reports and the stdio MCP stream.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Error("apiwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	switch {
	case f.checkHTML != "":
		return runCheck(ctx, logger, cfg, f)
	case f.mcpStdio:
		return runMCP(ctx, logger, cfg)
	case f.httpAddr != "":
		return runHTTP(ctx, logger, cfg, f)
	case f.singleURL != "":
		cfg.Pages = []apiwatch.PageConfig{{ID: "page-1", URL: f.singleURL, Wait: cfg.Recording.Timeout}}
		return runPages(ctx, logger, cfg, f)
	case f.configPath != "":
		return runPages(ctx, logger, cfg, f)
	}

	fmt.Fprintln(os.Stderr, "usage: apiwatch -url <url> | -config <file> | -http <addr> | -mcp | -check <html> -responses <json>")
	os.Exit(2)
	return nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f flags) (*apiwatch.Config, error) {
	cfg := &apiwatch.Config{}
	if f.configPath != "" {
		loaded, err := apiwatch.LoadConfigFile(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if f.dbPath != "" {
		cfg.Store.DBPath = f.dbPath
	}
	if f.remote != "" {
		cfg.Browser.Remote = f.remote
	}
	if f.domains != "" {
		cfg.Recording.Domains = strings.Split(f.domains, ",")
	}
	if f.timeout > 0 {
		cfg.Recording.Timeout = f.timeout
	}
	if f.thresholdMs >= 0 {
		d := time.Duration(f.thresholdMs * float64(time.Millisecond))
		cfg.Recording.Threshold = &d
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runPages(ctx context.Context, logger *slog.Logger, cfg *apiwatch.Config, f flags) error {
	w, err := apiwatch.New(cfg, apiwatch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	records, err := w.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return writeReport(f.out, records)
}

func runHTTP(ctx context.Context, logger *slog.Logger, cfg *apiwatch.Config, f flags) error {
	w, err := apiwatch.New(cfg, apiwatch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	srv := &http.Server{
		Addr:              f.httpAddr,
		Handler:           w.Handler(f.visitLimit),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("apiwatch: http listening", "addr", f.httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("apiwatch: http shutdown", "error", err)
	}
	logger.Info("apiwatch: http stopped")
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, cfg *apiwatch.Config) error {
	w, err := apiwatch.New(cfg, apiwatch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	srv := mcp.NewServer(&mcp.Implementation{Name: "apiwatch", Version: version}, nil)
	w.RegisterMCP(srv)

	logger.Info("apiwatch: mcp serving on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// capturedResponse is one entry of the -responses file.
type capturedResponse struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body"`
}

func runCheck(ctx context.Context, logger *slog.Logger, cfg *apiwatch.Config, f flags) error {
	if f.responses == "" {
		return fmt.Errorf("check: -responses is required")
	}
	page, err := os.ReadFile(f.checkHTML)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	responses, err := readResponses(f.responses)
	if err != nil {
		return err
	}

	cfg.Pages = nil
	w, err := apiwatch.New(cfg, apiwatch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	w.StartRecording(cfg.Recording.Options())
	for _, resp := range responses {
		if _, err := w.Check(ctx, bytes.NewReader(page), resp.URL, bodyBytes(resp.Body)); err != nil {
			logger.Warn("apiwatch: response skipped", "url", resp.URL, "error", err)
		}
	}
	records, err := w.StopRecording()
	if err != nil {
		return err
	}
	return writeReport(f.out, records)
}

func readResponses(path string) ([]capturedResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}
	var list []capturedResponse
	if err := json.Unmarshal(data, &list); err != nil {
		var one capturedResponse
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return nil, fmt.Errorf("check: decode %s: %w", path, err)
		}
		list = []capturedResponse{one}
	}
	return list, nil
}

// bodyBytes accepts a body given either as embedded JSON or as a JSON
// string holding the raw payload.
func bodyBytes(raw json.RawMessage) []byte {
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return []byte(s)
	}
	return raw
}

func writeReport(path string, records []apiwatch.Record) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		defer f.Close()
		w = f
	}
	return report.WriteJSON(w, records)
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
