// Farmlink connects a Moltbot agent host to a local LlamaFarm server.
//
// It keeps a LlamaFarm project reconciled, seeds the host's workspace,
// and registers the LlamaFarm provider and mock tools with the host.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); without one the
// built-in defaults apply.
//
// Usage:
//
//	farmlink serve             Run the host services until interrupted
//	farmlink init              Materialize the workspace
//	farmlink bootstrap         Reconcile the LlamaFarm project once
//	farmlink project           Print the remote project config
//	farmlink health            Check the LlamaFarm server
//	farmlink models            List models served for the project
//	farmlink chat <text>       Send one chat message
//	farmlink tools             Print the mock tool schemas
//	farmlink workspace         List the workspace documents
//	farmlink auth              Run the provider auth flow
//	farmlink version           Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nugget/farmlink/internal/buildinfo"
	"github.com/nugget/farmlink/internal/config"
	"github.com/nugget/farmlink/internal/httpkit"
	"github.com/nugget/farmlink/internal/llamafarm"
	"github.com/nugget/farmlink/internal/paths"
)

// main builds the OS-level environment and hands off to [run], so the
// whole command can be driven from tests.
func main() {
	// A missing .env is normal; anything else is worth a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %s\n", err)
	}

	if err := run(context.Background(), os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so that
// tests can call run concurrently without flag package globals.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case command == "" && (args[i] == "-h" || args[i] == "-help" || args[i] == "--help"):
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	out := &output{w: stdout, format: outputFmt}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		return runInit(stderr, out, configPath)
	case "bootstrap":
		return runBootstrap(ctx, stderr, out, configPath)
	case "project":
		return runProject(ctx, stderr, out, configPath)
	case "health":
		return runHealth(ctx, stderr, out, configPath)
	case "models":
		return runModels(ctx, stderr, out, configPath)
	case "chat":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: farmlink chat [-stream] <message>")
		}
		return runChat(ctx, stderr, out, configPath, cmdArgs)
	case "tools":
		return runTools(stderr, out, configPath)
	case "workspace":
		return runWorkspace(ctx, stderr, out, configPath)
	case "auth":
		return runAuth(ctx, stdin, stderr, out, configPath)
	case "version":
		return runVersion(out)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// output writes command results as text or indented JSON.
type output struct {
	w      io.Writer
	format string
}

func (o *output) json() bool { return o.format == "json" }

// emit writes v as JSON in json mode, or calls text otherwise.
func (o *output) emit(v any, text func(w io.Writer)) error {
	if o.json() {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(o.w)
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(out *output) error {
	info := buildinfo.Get()
	return out.emit(info, func(w io.Writer) {
		fmt.Fprintln(w, buildinfo.String())
		for _, f := range info.Fields() {
			fmt.Fprintf(w, "  %-12s %s\n", f[0]+":", f[1])
		}
	})
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Farmlink - LlamaFarm integration for Moltbot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: farmlink [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Run the host services until interrupted")
	fmt.Fprintln(w, "  init         Materialize the workspace and write an example config")
	fmt.Fprintln(w, "  bootstrap    Reconcile the LlamaFarm project once")
	fmt.Fprintln(w, "  project      Print the remote project config")
	fmt.Fprintln(w, "  health       Check the LlamaFarm server")
	fmt.Fprintln(w, "  models       List models served for the project")
	fmt.Fprintln(w, "  chat <text>  Send one chat message (-stream to stream tokens)")
	fmt.Fprintln(w, "  tools        Print the mock tool schemas")
	fmt.Fprintln(w, "  workspace    List the workspace documents")
	fmt.Fprintln(w, "  auth         Configure the provider interactively")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./farmlink.yaml, ~/.config/farmlink/config.yaml, /etc/farmlink/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "The workspace lives in %s unless %s or state_dir says otherwise.\n",
		paths.DefaultStateDir(), paths.StateDirEnv)
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Any format other than "json" is text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the config file. Without an explicit
// path and with no file on the search path, the defaults are used and
// the returned path is empty.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// env is what every subcommand needs after startup.
type env struct {
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	stateDir string
}

// setup loads config, builds the logger and resolves the state
// directory. This is the only place the environment is consulted.
func setup(logOut io.Writer, configPath string) (*env, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		// Validated by config.Validate.
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	logger := newLogger(logOut, level, cfg.LogFormat)
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	} else {
		logger.Debug("no config file found, using defaults")
	}

	return &env{
		cfg:      cfg,
		cfgPath:  cfgPath,
		logger:   logger,
		stateDir: paths.StateDir(os.LookupEnv, cfg.StateDir),
	}, nil
}

func (e *env) identity() llamafarm.Identity {
	return llamafarm.Identity{Namespace: e.cfg.LlamaFarm.Namespace, Project: e.cfg.LlamaFarm.Project}
}

// client builds a LlamaFarm client bounded by the configured timeout.
func (e *env) client() *llamafarm.Client {
	hc := httpkit.NewClient(httpkit.WithTimeout(time.Duration(e.cfg.LlamaFarm.TimeoutSec) * time.Second))
	return llamafarm.NewClient(e.cfg.LlamaFarm.ServerURL, e.identity(), e.logger, llamafarm.WithHTTPClient(hc))
}
