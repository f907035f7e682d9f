package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cadwell/turnstile"
	"github.com/cadwell/turnstile/internal/retry"
)

// CLI holds registered modules and provides the turnstile command-line
// interface.
type CLI struct {
	modules []turnstile.Module
}

// New returns a new CLI instance.
func New() *CLI {
	return &CLI{}
}

// RegisterModule adds a module that will be initialized when the serve
// command starts.
func (c *CLI) RegisterModule(m turnstile.Module) {
	c.modules = append(c.modules, m)
}

// Run parses args and executes the appropriate subcommand.
// It returns an exit code (0 for success, non-zero for failure).
func (c *CLI) Run(args []string) int {
	if len(args) < 1 {
		c.usage()
		return 1
	}

	switch args[0] {
	case "serve":
		return c.cmdServe(args[1:])
	case "submit":
		return cmdSubmit(args[1:])
	case "play":
		return cmdPlay(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "journal":
		return cmdJournal(args[1:])
	case "reset":
		return cmdReset(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		c.usage()
		return 1
	}
}

func (c *CLI) usage() {
	fmt.Fprintln(os.Stderr, "Usage: turnstile <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve    Start the harness")
	fmt.Fprintln(os.Stderr, "  submit   Submit a single command")
	fmt.Fprintln(os.Stderr, "  play     Submit a YAML scenario")
	fmt.Fprintln(os.Stderr, "  status   Show lane counters")
	fmt.Fprintln(os.Stderr, "  journal  Show executed commands for a category")
	fmt.Fprintln(os.Stderr, "  reset    Reset a category's lane")
}

// serveEnv holds environment defaults for the serve command. Flags
// override.
type serveEnv struct {
	DataDir     string        `env:"TURNSTILE_DATA_DIR"`
	HTTPAddr    string        `env:"TURNSTILE_HTTP_ADDR" envDefault:"127.0.0.1:7600"`
	ExecTimeout time.Duration `env:"TURNSTILE_EXEC_TIMEOUT" envDefault:"10s"`
	ReportPath  string        `env:"TURNSTILE_REPORT"`
	LogFile     string        `env:"TURNSTILE_LOG_FILE"`
}

func (c *CLI) cmdServe(args []string) int {
	var defaults serveEnv
	if err := env.Parse(&defaults); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse environment: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaults.DataDir, "Data directory (required)")
	httpAddr := fs.String("http", defaults.HTTPAddr, "HTTP ingress address")
	execTimeout := fs.Duration("exec-timeout", defaults.ExecTimeout, "Per-command target timeout")
	report := fs.String("report", defaults.ReportPath, "Write a JSON run report here on shutdown")
	logFile := fs.String("log-file", defaults.LogFile, "Log to this file (rotated) instead of stderr")
	fs.Parse(args)

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: --data-dir is required (or TURNSTILE_DATA_DIR)")
		fs.Usage()
		return 1
	}

	logger := slog.Default()
	if *logFile != "" {
		logger = slog.New(slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
		}, nil))
	}

	app := turnstile.New(turnstile.Config{
		DataDir:     *dataDir,
		HTTPAddr:    *httpAddr,
		ExecTimeout: *execTimeout,
		ReportPath:  *report,
		Logger:      logger,
	})
	for _, m := range c.modules {
		app.RegisterModule(m)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start", "err", err)
		return 1
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := app.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

func cmdSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server := fs.String("server", "localhost:7600", "HTTP server address")
	category := fs.String("category", "session", "Command category")
	seq := fs.Uint64("seq", 0, "Sequence number")
	wait := fs.Duration("wait", 10*time.Second, "How long to keep retrying the server")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: turnstile submit [--server ADDR] [--category C] [--seq N] <op> [key=value ...]")
		return 1
	}

	name := fs.Arg(0)
	params := turnstile.Params{}
	for _, kv := range fs.Args()[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			fmt.Fprintf(os.Stderr, "error: parameter %q is not key=value\n", kv)
			return 1
		}
		params.Add(k, v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	if err := postCommand(ctx, *server, *category, name, params, *seq); err != nil {
		slog.Error("submit failed", "err", err)
		return 1
	}
	return 0
}

func cmdPlay(args []string) int {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	server := fs.String("server", "localhost:7600", "HTTP server address")
	wait := fs.Duration("wait", 30*time.Second, "Overall submission deadline")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: turnstile play [--server ADDR] <scenario.yaml>")
		return 1
	}

	sc, err := turnstile.LoadScenario(fs.Arg(0))
	if err != nil {
		slog.Error("failed to load scenario", "err", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	for i := range sc.Steps {
		st := &sc.Steps[i]
		if st.DelayMS > 0 {
			select {
			case <-time.After(time.Duration(st.DelayMS) * time.Millisecond):
			case <-ctx.Done():
				slog.Error("scenario deadline exceeded", "step", i)
				return 1
			}
		}
		if err := postCommand(ctx, *server, st.Category, st.Op, turnstile.Params(st.Params), st.Seq); err != nil {
			slog.Error("scenario step failed", "step", i, "err", err)
			return 1
		}
	}

	slog.Info("scenario submitted", "name", sc.Name, "steps", len(sc.Steps))
	return 0
}

// postCommand submits one command, retrying with backoff until the server
// accepts it or ctx expires.
func postCommand(ctx context.Context, server, category, name string, params turnstile.Params, seq uint64) error {
	body, err := json.Marshal(map[string]any{
		"category": category,
		"name":     name,
		"seq":      seq,
		"params":   params,
	})
	if err != nil {
		return err
	}

	_, err = retry.Do(ctx, func() (struct{}, error) {
		resp, err := http.Post(
			fmt.Sprintf("http://%s/api/v1/commands", server),
			"application/json",
			bytes.NewReader(body),
		)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			b, _ := io.ReadAll(resp.Body)
			return struct{}{}, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
		}
		return struct{}{}, nil
	})
	return err
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", "localhost:7600", "HTTP server address")
	fs.Parse(args)

	path := "/api/v1/lanes"
	if fs.NArg() == 1 {
		path += "/" + fs.Arg(0)
	}
	return getJSON(*server, path)
}

func cmdJournal(args []string) int {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	server := fs.String("server", "localhost:7600", "HTTP server address")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: turnstile journal [--server ADDR] <category>")
		return 1
	}
	return getJSON(*server, "/api/v1/journal/"+fs.Arg(0))
}

func cmdReset(args []string) int {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	server := fs.String("server", "localhost:7600", "HTTP server address")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: turnstile reset [--server ADDR] <category>")
		return 1
	}

	resp, err := http.Post(
		fmt.Sprintf("http://%s/api/v1/lanes/%s/reset", *server, fs.Arg(0)),
		"application/json",
		nil,
	)
	if err != nil {
		slog.Error("request failed", "err", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "error: %s %s\n", resp.Status, string(body))
		return 1
	}
	return 0
}

func getJSON(server, path string) int {
	resp, err := http.Get(fmt.Sprintf("http://%s%s", server, path))
	if err != nil {
		slog.Error("request failed", "err", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "error: %s %s\n", resp.Status, string(body))
		return 1
	}

	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	return 0
}
