// Command convoflow replays chat transcripts through the conversation flow
// tracker, persisting per-user flow snapshots between runs.
//
// Input lines have the form "user_id<TAB>message" with an optional third
// column holding emotion data as a JSON object. One JSON result is printed
// per processed line.
package main

import (
	"bufio"
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
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/ConvoFlow/internal/config"
	"github.com/BTreeMap/ConvoFlow/internal/emotion"
	"github.com/BTreeMap/ConvoFlow/internal/flow"
	"github.com/BTreeMap/ConvoFlow/internal/genai"
	"github.com/BTreeMap/ConvoFlow/internal/lockfile"
	"github.com/BTreeMap/ConvoFlow/internal/models"
	"github.com/BTreeMap/ConvoFlow/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ConvoFlow state data
	DefaultStateDir = "/var/lib/convoflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "convoflow.db"
)

func main() {
	initializeLogger(os.Getenv("CONVOFLOW_LOG_LEVEL"), false)

	cfg := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		os.Exit(2)
	}
	if flags.debug {
		initializeLogger("debug", true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, os.Stdin, os.Stdout); err != nil {
		slog.Error("ConvoFlow failed", "error", err)
		os.Exit(1)
	}
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	DBDSN       string
	ConfigPath  string
	OpenAIKey   string
	MetricsAddr string
}

// Flags holds command line flag values
type Flags struct {
	configPath  string
	stateDir    string
	dbDSN       string
	openaiKey   string
	metricsAddr string
	debug       bool
	llmEmotion  bool
	export      string
	reset       string
	list        bool
	inputs      []string
}

// initializeLogger writes text logs to stderr; stdout carries results.
func initializeLogger(level string, debug bool) {
	var lvl slog.Level
	if debug {
		lvl = slog.LevelDebug
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil || level == "" {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Config{
		StateDir:    os.Getenv("CONVOFLOW_STATE_DIR"),
		DBDSN:       os.Getenv("CONVOFLOW_DB_DSN"),
		ConfigPath:  os.Getenv("CONVOFLOW_CONFIG"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		MetricsAddr: os.Getenv("CONVOFLOW_METRICS_ADDR"),
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
		slog.Debug("No CONVOFLOW_STATE_DIR set, using default", "stateDir", cfg.StateDir)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = os.Getenv("DATABASE_URL")
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlitePath", cfg.DBDSN)
	}

	slog.Debug("environment variables loaded",
		"CONVOFLOW_STATE_DIR", cfg.StateDir,
		"CONVOFLOW_DB_DSN_SET", cfg.DBDSN != "",
		"CONVOFLOW_CONFIG", cfg.ConfigPath,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"CONVOFLOW_METRICS_ADDR", cfg.MetricsAddr)
	return cfg
}

// parseCommandLineFlags parses args with environment defaults. When only
// the state directory is overridden the default SQLite path follows it.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg Config) (Flags, error) {
	var f Flags
	fs.StringVar(&f.configPath, "config", cfg.ConfigPath, "YAML tuning file (overrides $CONVOFLOW_CONFIG)")
	fs.StringVar(&f.stateDir, "state-dir", cfg.StateDir, "state directory (overrides $CONVOFLOW_STATE_DIR)")
	fs.StringVar(&f.dbDSN, "db-dsn", cfg.DBDSN, "snapshot store DSN: SQLite path, postgres URL, badger://<dir> or memory:// (overrides $CONVOFLOW_DB_DSN)")
	fs.StringVar(&f.openaiKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (overrides $CONVOFLOW_METRICS_ADDR)")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&f.llmEmotion, "llm-emotion", false, "classify emotion with the OpenAI model instead of keywords")
	fs.StringVar(&f.export, "export", "", "print the stored flow for this user and exit")
	fs.StringVar(&f.reset, "reset", "", "delete the stored flow for this user and exit")
	fs.BoolVar(&f.list, "list", false, "print the users with a stored flow and exit")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	f.inputs = fs.Args()

	defaultDSN := filepath.Join(cfg.StateDir, DefaultDBFileName)
	if f.dbDSN == cfg.DBDSN && cfg.DBDSN == defaultDSN && f.stateDir != cfg.StateDir {
		f.dbDSN = filepath.Join(f.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "stateDir", f.stateDir)
	}

	slog.Debug("flags parsed",
		"config", f.configPath,
		"stateDir", f.stateDir,
		"dbDSN_set", f.dbDSN != "",
		"openaiKeySet", f.openaiKey != "",
		"metricsAddr", f.metricsAddr,
		"llmEmotion", f.llmEmotion,
		"inputs", len(f.inputs))
	return f, nil
}

// run wires the tracker to its snapshot store and executes one command.
func run(ctx context.Context, f Flags, stdin io.Reader, stdout io.Writer) error {
	settings, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.llmEmotion {
		settings.LLMEmotion = true
	}

	kind := store.DetectDSNType(f.dbDSN)
	if kind == store.DSNTypeSQLite || kind == store.DSNTypeBadger {
		lock, err := lockfile.AcquireLock(f.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	repo, err := store.Open(f.dbDSN)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer repo.Close()

	tracker, err := flow.NewStore(flow.WithConfig(settings.Flow))
	if err != nil {
		return err
	}
	p := flow.NewPersister(tracker, repo)

	switch {
	case f.export != "":
		snap, err := p.Export(ctx, f.export)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case f.reset != "":
		if err := p.Reset(ctx, f.reset); err != nil {
			return err
		}
		slog.Info("Flow reset", "userID", f.reset)
		return nil
	case f.list:
		users, err := repo.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("list stored flows: %w", err)
		}
		slices.Sort(users)
		for _, u := range users {
			if _, err := fmt.Fprintln(stdout, u); err != nil {
				return err
			}
		}
		return nil
	}

	if f.metricsAddr != "" {
		srv := startMetricsServer(f.metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	r := &replayer{
		persister:  p,
		classifier: buildClassifier(settings, f),
		out:        json.NewEncoder(stdout),
	}
	if len(f.inputs) == 0 {
		return r.replay(ctx, "stdin", stdin)
	}
	for _, path := range f.inputs {
		if err := r.replayFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

// buildClassifier returns the keyword classifier, or the LLM classifier
// when requested and an API key is available.
func buildClassifier(settings config.Settings, f Flags) emotion.Classifier {
	keywords := emotion.NewKeywordClassifier(settings.EmotionRules)
	if !settings.LLMEmotion {
		return keywords
	}
	var opts []genai.Option
	if f.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(f.openaiKey))
	}
	if f.debug {
		opts = append(opts, genai.WithDebugMode(true, f.stateDir))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Warn("LLM emotion classification unavailable, using keywords", "error", err)
		return keywords
	}
	return emotion.NewLLMClassifier(client, keywords)
}

// replayer feeds transcript lines through the persister.
type replayer struct {
	persister  *flow.Persister
	classifier emotion.Classifier
	out        *json.Encoder
}

// lineResult is printed for every processed line.
type lineResult struct {
	UserID string                  `json:"user_id"`
	Result models.FlowUpdateResult `json:"result"`
}

func (r *replayer) replayFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", path, err)
	}
	defer file.Close()
	return r.replay(ctx, path, file)
}

func (r *replayer) replay(ctx context.Context, name string, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		userID, message, emoMap, ok := parseLine(scanner.Text())
		if !ok {
			if strings.TrimSpace(scanner.Text()) != "" && !strings.HasPrefix(scanner.Text(), "#") {
				slog.Warn("Skipping malformed transcript line", "source", name, "line", lineNo)
			}
			continue
		}
		if err := r.processLine(ctx, userID, message, emoMap); err != nil {
			return fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		if evicted := r.persister.Store().EvictIdle(time.Now()); len(evicted) > 0 {
			slog.Info("Evicted idle flows", "count", len(evicted))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func (r *replayer) processLine(ctx context.Context, userID, message string, emoMap map[string]any) error {
	var (
		emo         *models.EmotionData
		decodeFixes []string
	)
	if emoMap != nil {
		raw, reasons := emotion.FromMap(emoMap)
		if len(reasons) > 0 {
			slog.Warn("Emotion column partly unusable", "userID", userID, "reasons", reasons)
		}
		decodeFixes = reasons
		norm, _ := emotion.Normalize(raw)
		emo = &norm
	} else {
		classified, err := r.classifier.Classify(ctx, message)
		if err != nil {
			slog.Warn("Emotion classification failed, continuing without", "userID", userID, "error", err)
		}
		emo = classified
	}

	res, err := r.persister.Process(ctx, userID, message, emo, nil)
	if err != nil {
		return err
	}
	res.AddDegraded(decodeFixes...)
	return r.out.Encode(lineResult{UserID: userID, Result: res})
}

// parseLine splits "user_id<TAB>message[<TAB>emotion-json]". Blank lines,
// comments and lines without a user are rejected. An emotion column that
// is not a JSON object is ignored.
func parseLine(line string) (userID, message string, emo map[string]any, ok bool) {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return "", "", nil, false
	}
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) < 2 {
		return "", "", nil, false
	}
	userID = strings.TrimSpace(parts[0])
	if userID == "" {
		return "", "", nil, false
	}
	message = parts[1]
	if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
		if err := json.Unmarshal([]byte(parts[2]), &emo); err != nil {
			slog.Warn("Ignoring unparsable emotion column", "userID", userID, "error", err)
			emo = nil
		}
	}
	return userID, message, emo, true
}
