// Package reconcile drives a LlamaFarm project toward a desired
// configuration. Each call re-reads everything from the live server;
// nothing about remote state is cached between calls, because the
// server can be edited out of band.
//
// A reconciliation runs four steps:
//
//  1. Probe: if the server is unreachable or unhealthy, stop with
//     ServerHealthy=false and make no further calls.
//  2. Exists: record whether the project is present.
//  3. Ensure: check existence again; create from the starter template
//     then update, or update directly.
//  4. Report: Created is derived from step 2, Config from the update
//     echo, Error from whatever failed in step 3.
//
// A create that fails because another actor created the project
// between steps 2 and 3 is reported as an error, not retried as an
// update.
package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nugget/farmlink/internal/llamafarm"
)

// DefaultTemplate is the starter template named on create. The server
// accepts only a template name there, not a full config.
const DefaultTemplate = "default"

// Server is the subset of *llamafarm.Client the reconciler uses.
type Server interface {
	BaseURL() string
	Identity() llamafarm.Identity
	IsHealthy(ctx context.Context) bool
	ProjectExists(ctx context.Context) bool
	GetProject(ctx context.Context) (*llamafarm.ProjectResponse, error)
	CreateProject(ctx context.Context, req llamafarm.CreateProjectRequest) (*llamafarm.ProjectResponse, error)
	UpdateProject(ctx context.Context, cfg llamafarm.ProjectConfig) (*llamafarm.ProjectResponse, error)
}

// Result is the outcome of one reconciliation. It is a value for the
// caller to log or act on; it is never persisted.
type Result struct {
	Namespace     string                   `json:"namespace"`
	Project       string                   `json:"project"`
	Created       bool                     `json:"created"`
	ServerHealthy bool                     `json:"server_healthy"`
	Config        *llamafarm.ProjectConfig `json:"config,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// OK reports whether the project is now in the desired state.
func (r Result) OK() bool {
	return r.ServerHealthy && r.Error == ""
}

// Reconciler reconciles the project its Server targets.
type Reconciler struct {
	server Server
	logger *slog.Logger

	// mu serializes Reconcile calls sharing this Reconciler, which is
	// bound to a single identity. Other processes can still race.
	mu sync.Mutex
}

// New creates a Reconciler for server.
func New(server Server, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{server: server, logger: logger}
}

// Reconcile brings the remote project in line with desired. It never
// returns an error; failures are reported in Result.Error.
func (r *Reconciler) Reconcile(ctx context.Context, desired llamafarm.ProjectConfig) Result {
	id := r.server.Identity()
	res := Result{Namespace: id.Namespace, Project: id.Project}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.server.IsHealthy(ctx) {
		res.Error = "llamafarm server unreachable at " + r.server.BaseURL()
		r.logger.Warn("llamafarm reconcile skipped", "project", id.String(), "error", res.Error)
		return res
	}
	res.ServerHealthy = true

	wasPresent := r.server.ProjectExists(ctx)

	resp, err := r.ensure(ctx, desired)
	if err != nil {
		res.Error = err.Error()
		r.logger.Warn("llamafarm reconcile failed",
			"project", id.String(),
			"was_present", wasPresent,
			"error", err,
		)
		return res
	}

	res.Created = !wasPresent
	cfg := resp.Project.Config
	res.Config = &cfg

	r.logger.Info("llamafarm project reconciled",
		"project", id.String(),
		"created", res.Created,
	)
	return res
}

// ensure creates-then-updates an absent project, or updates a present
// one. Existence is read again here so that a health probe alone
// never commits to a mutation.
func (r *Reconciler) ensure(ctx context.Context, desired llamafarm.ProjectConfig) (*llamafarm.ProjectResponse, error) {
	id := r.server.Identity()

	if !r.server.ProjectExists(ctx) {
		r.logger.Debug("creating llamafarm project", "project", id.String(), "template", DefaultTemplate)
		if _, err := r.server.CreateProject(ctx, llamafarm.CreateProjectRequest{
			Name:           id.Project,
			ConfigTemplate: DefaultTemplate,
		}); err != nil {
			return nil, err
		}
	}

	r.logger.Debug("updating llamafarm project", "project", id.String())
	return r.server.UpdateProject(ctx, desired)
}

// ProjectConfig returns the remote configuration, or nil if the server
// is unreachable, the project is absent, or the fetch fails. It never
// mutates anything.
func (r *Reconciler) ProjectConfig(ctx context.Context) *llamafarm.ProjectConfig {
	if !r.server.ProjectExists(ctx) {
		return nil
	}
	resp, err := r.server.GetProject(ctx)
	if err != nil {
		r.logger.Debug("llamafarm project fetch failed", "project", r.server.Identity().String(), "error", err)
		return nil
	}
	cfg := resp.Project.Config
	return &cfg
}
