package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nugget/farmlink/examples"
	"github.com/nugget/farmlink/internal/events"
	"github.com/nugget/farmlink/internal/llamafarm"
	"github.com/nugget/farmlink/internal/paths"
	"github.com/nugget/farmlink/internal/plugin"
	"github.com/nugget/farmlink/internal/provider"
	"github.com/nugget/farmlink/internal/reconcile"
	"github.com/nugget/farmlink/internal/tools"
	"github.com/nugget/farmlink/internal/usage"
	"github.com/nugget/farmlink/internal/workspace"
)

// exampleConfigName is written by init when no config file is found.
const exampleConfigName = "farmlink.yaml"

// runInit materializes the workspace. When no config file was found it
// also writes the example config to the working directory. Existing
// files are never overwritten.
func runInit(logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	res, err := workspace.New(e.stateDir, workspaceSettings(e), e.logger).Materialize()
	if err != nil {
		return err
	}

	var wroteConfig string
	if e.cfgPath == "" {
		written, err := writeIfMissing(exampleConfigName, examples.ConfigYAML)
		if err != nil {
			return err
		}
		if written {
			wroteConfig = exampleConfigName
		}
	}

	return out.emit(map[string]any{"workspace": res, "config_written": wroteConfig}, func(w io.Writer) {
		if !res.Created {
			fmt.Fprintf(w, "Workspace already exists in %s\n", res.StateDir)
		} else {
			fmt.Fprintf(w, "Initialized workspace in %s\n", res.StateDir)
			for _, d := range res.Documents {
				fmt.Fprintf(w, "  ✓ %s\n", filepath.Join(res.WorkspaceDir, d))
			}
			fmt.Fprintf(w, "  ✓ %s\n", res.ControlPath)
		}
		if wroteConfig != "" {
			fmt.Fprintf(w, "  ✓ %s (example config)\n", wroteConfig)
		}
	})
}

// writeIfMissing writes content to path unless it already exists.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// runBootstrap reconciles the project once. A failed reconciliation is
// printed and returned as an error so the exit status reflects it.
func runBootstrap(ctx context.Context, logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	res := reconcile.New(e.client(), e.logger).Reconcile(ctx, reconcile.DesiredConfig(e.identity(), e.cfg.LlamaFarm.ModelName))
	if err := out.emit(res, func(w io.Writer) {
		project := res.Namespace + "/" + res.Project
		switch {
		case res.OK() && res.Created:
			fmt.Fprintf(w, "Created project %s\n", project)
		case res.OK():
			fmt.Fprintf(w, "Project %s is up to date\n", project)
		default:
			fmt.Fprintf(w, "Project %s not reconciled: %s\n", project, res.Error)
		}
	}); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("bootstrap failed: %s", res.Error)
	}
	return nil
}

// runProject prints the remote project config, or "absent".
func runProject(ctx context.Context, logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	cfg := reconcile.New(e.client(), e.logger).ProjectConfig(ctx)
	if cfg == nil {
		return out.emit(map[string]any{"project": e.identity().String(), "present": false}, func(w io.Writer) {
			fmt.Fprintf(w, "Project %s: absent\n", e.identity())
		})
	}
	return out.emit(cfg, func(w io.Writer) {
		fmt.Fprintf(w, "Project %s\n", e.identity())
		fmt.Fprintf(w, "  %-10s %s\n", "version:", cfg.Version)
		if cfg.Runtime != nil {
			for _, m := range cfg.Runtime.Models {
				fmt.Fprintf(w, "  %-10s %s (%s, %s)\n", "model:", m.Name, m.Provider, m.Model)
			}
		}
		for _, p := range cfg.Prompts {
			fmt.Fprintf(w, "  %-10s %s\n", "prompt:", p.Name)
		}
	})
}

// runHealth probes the server and prints its report. An unhealthy or
// unreachable server is an error.
func runHealth(ctx context.Context, logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	client := e.client()
	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("llamafarm server unreachable at %s: %w", client.BaseURL(), err)
	}
	if err := out.emit(h, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", client.BaseURL(), h.Status)
		if h.Summary != "" {
			fmt.Fprintf(w, "  %s\n", h.Summary)
		}
		for _, c := range h.Components {
			fmt.Fprintf(w, "  %-16s %s\n", c.Name+":", c.Status)
		}
	}); err != nil {
		return err
	}
	if h.Status != llamafarm.StatusHealthy {
		return fmt.Errorf("llamafarm server at %s is not healthy (%s)", client.BaseURL(), h.Status)
	}
	return nil
}

// runModels lists the models served for the project.
func runModels(ctx context.Context, logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	models, err := e.client().ListModels(ctx)
	if err != nil {
		return err
	}
	return out.emit(models, func(w io.Writer) {
		for _, m := range models {
			fmt.Fprintln(w, m)
		}
	})
}

// runChat sends one user message with the mock tools in context and
// prints the reply. With -stream, tokens are printed as they arrive.
// Usage is recorded when the ledger is enabled.
func runChat(ctx context.Context, logOut io.Writer, out *output, configPath string, args []string) error {
	stream := false
	var words []string
	for _, a := range args {
		if a == "-stream" || a == "--stream" {
			stream = true
			continue
		}
		words = append(words, a)
	}
	text := strings.TrimSpace(strings.Join(words, " "))
	if text == "" {
		return fmt.Errorf("usage: farmlink chat [-stream] <message>")
	}

	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	tools.RegisterMocks(registry, e.logger)
	toolsContext, err := registry.SerializeForContext()
	if err != nil {
		return err
	}

	var onToken llamafarm.StreamCallback
	if stream && !out.json() {
		onToken = func(tok string) { fmt.Fprint(out.w, tok) }
	}

	start := time.Now()
	resp, err := e.client().ChatStreamWithDefaults(ctx,
		[]llamafarm.Message{{Role: llamafarm.RoleUser, Content: text}},
		llamafarm.ChatOptions{ToolsContext: toolsContext, Stream: &stream},
		onToken,
	)
	if err != nil {
		return err
	}

	if e.cfg.Usage.Enabled {
		rec := usage.FromChat(e.identity(), resp, time.Since(start), stream)
		if err := recordUsage(ctx, e, rec); err != nil {
			e.logger.Warn("usage not recorded", "error", err)
		}
	}

	return out.emit(resp, func(w io.Writer) {
		if onToken != nil {
			fmt.Fprintln(w)
			return
		}
		fmt.Fprintln(w, resp.Content())
	})
}

func recordUsage(ctx context.Context, e *env, rec usage.Record) error {
	store, err := openUsage(e)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, rec)
}

// openUsage opens the ledger, creating its directory if needed.
func openUsage(e *env) (*usage.Store, error) {
	dbPath := usageDBPath(e)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}
	return usage.Open(dbPath)
}

func usageDBPath(e *env) string {
	if e.cfg.Usage.DBPath != "" {
		return paths.ExpandHome(e.cfg.Usage.DBPath)
	}
	return filepath.Join(e.stateDir, "usage.db")
}

// runTools prints the mock tool schemas. Text output is the same
// document the chat command passes as tools_context.
func runTools(logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	tools.RegisterMocks(registry, e.logger)
	if out.json() {
		return out.emit(registry.List(), nil)
	}
	doc, err := registry.SerializeForContext()
	if err != nil {
		return err
	}
	fmt.Fprintln(out.w, doc)
	return nil
}

// runWorkspace lists the workspace documents with their outlines, and
// usage totals for today when the ledger is enabled.
func runWorkspace(ctx context.Context, logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	layout := workspace.NewLayout(e.stateDir)
	if !workspace.Exists(e.stateDir) {
		return fmt.Errorf("no workspace in %s (run farmlink init)", e.stateDir)
	}
	control, err := workspace.ReadControlFile(e.stateDir)
	if err != nil {
		return err
	}
	docs, err := workspace.Inventory(layout.WorkspaceDir)
	if err != nil {
		return err
	}

	var report *usageReport
	if e.cfg.Usage.Enabled {
		if _, err := os.Stat(usageDBPath(e)); err == nil {
			report, err = loadUsageReport(ctx, e, recentUsageLimit)
			if err != nil {
				e.logger.Warn("usage summary unavailable", "error", err)
			}
		}
	}

	return out.emit(map[string]any{"layout": layout, "control": control, "documents": docs, "usage": report}, func(w io.Writer) {
		fmt.Fprintf(w, "Workspace %s\n", layout.WorkspaceDir)
		if lf, ok := control.Models.Providers[provider.ID]; ok {
			fmt.Fprintf(w, "  provider: %s\n", lf.BaseURL)
		}
		for _, d := range docs {
			fmt.Fprintf(w, "  %-12s %s\n", d.Name, d.Title)
			for _, s := range d.Sections {
				fmt.Fprintf(w, "  %-12s   - %s\n", "", s)
			}
		}
		if report == nil {
			return
		}
		fmt.Fprintf(w, "Today: %d requests, %d tokens\n", report.Today.Requests, report.Today.TotalTokens())
		models := make([]string, 0, len(report.ByModel))
		for m := range report.ByModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			sum := report.ByModel[m]
			fmt.Fprintf(w, "  %-20s %d requests, %d tokens\n", m, sum.Requests, sum.TotalTokens())
		}
		if len(report.Recent) > 0 {
			fmt.Fprintln(w, "Recent:")
			for _, r := range report.Recent {
				fmt.Fprintf(w, "  %s  %-20s %5d tokens  %s\n",
					r.Timestamp.Local().Format(time.DateTime), r.Model, r.PromptTokens+r.CompletionTokens, r.Duration)
			}
		}
	})
}

// recentUsageLimit is how many ledger rows the workspace command lists.
const recentUsageLimit = 5

// usageReport is the ledger section of the workspace command.
type usageReport struct {
	Today   usage.Summary            `json:"today"`
	ByModel map[string]usage.Summary `json:"by_model"`
	Recent  []usage.Record           `json:"recent"`
}

func loadUsageReport(ctx context.Context, e *env, recent int) (*usageReport, error) {
	store, err := usage.Open(usageDBPath(e))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	now := time.Now()
	today, err := store.Day(ctx, now)
	if err != nil {
		return nil, err
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	byModel, err := store.SummaryByModel(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	last, err := store.Recent(ctx, recent)
	if err != nil {
		return nil, err
	}
	return &usageReport{Today: today, ByModel: byModel, Recent: last}, nil
}

// runAuth registers the plugin with a throwaway host and runs the
// provider's local auth method against stdin.
func runAuth(ctx context.Context, stdin io.Reader, logOut io.Writer, out *output, configPath string) error {
	e, err := setup(logOut, configPath)
	if err != nil {
		return err
	}

	h := newHost(e.logger, events.New())
	plugin.Register(h, e.cfg.LlamaFarm)
	p := h.provider(provider.ID)
	if p == nil {
		return fmt.Errorf("provider %s not registered", provider.ID)
	}
	method := p.Method(provider.AuthLocal)

	res, err := method.Run(ctx, provider.NewLinePrompter(stdin, logOut))
	if err != nil {
		return fmt.Errorf("%s auth: %w", p.Label, err)
	}
	return out.emit(res, func(w io.Writer) {
		for _, n := range res.Notes {
			fmt.Fprintln(w, n)
		}
		fmt.Fprintf(w, "Default model: %s\n", res.DefaultModel)
		if s, ok := res.ConfigPatch.Models.Providers[provider.ID]; ok {
			fmt.Fprintf(w, "Base URL: %s\n", s.BaseURL)
		}
	})
}
