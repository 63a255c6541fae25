// Package workspace seeds the agent host's local state directory: a
// workspace of persona documents, a memory directory and the host's
// control-file, moltbot.json.
//
// The control-file doubles as the completion marker. It is written
// last, so a run that fails part way leaves no marker and the next run
// starts over, rewriting any documents already on disk. Once the marker
// exists the workspace belongs to the user and is never touched again.
package workspace

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/nugget/farmlink/internal/llamafarm"
	"github.com/nugget/farmlink/internal/provider"
)

// Directory and file names inside the state directory.
const (
	ControlFileName  = "moltbot.json"
	WorkspaceDirName = "workspace"
	MemoryDirName    = "memory"
)

// Gateway defaults written to a new control-file.
const (
	DefaultGatewayPort = 3332
	DefaultGatewayMode = "local"
)

// Documents lists the workspace documents in the order they are written.
var Documents = []string{
	"SOUL.md",
	"AGENTS.md",
	"TOOLS.md",
	"USER.md",
	"IDENTITY.md",
	"MEMORY.md",
}

//go:embed templates/*.md
var templateFS embed.FS

// Layout is the set of paths derived from a state directory.
type Layout struct {
	StateDir     string `json:"state_dir"`
	WorkspaceDir string `json:"workspace_dir"`
	MemoryDir    string `json:"memory_dir"`
	ControlPath  string `json:"control_path"`
}

// NewLayout derives the workspace paths under stateDir.
func NewLayout(stateDir string) Layout {
	return Layout{
		StateDir:     stateDir,
		WorkspaceDir: filepath.Join(stateDir, WorkspaceDirName),
		MemoryDir:    filepath.Join(stateDir, MemoryDirName),
		ControlPath:  filepath.Join(stateDir, ControlFileName),
	}
}

// Settings are the values rendered into the documents and control-file.
type Settings struct {
	ServerURL   string
	Identity    llamafarm.Identity
	ModelName   string
	GatewayPort int
	GatewayMode string
}

func (s Settings) withDefaults() Settings {
	s.ServerURL = llamafarm.NormalizeBaseURL(s.ServerURL)
	if s.GatewayPort == 0 {
		s.GatewayPort = DefaultGatewayPort
	}
	if s.GatewayMode == "" {
		s.GatewayMode = DefaultGatewayMode
	}
	return s
}

// Result describes what Materialize did.
type Result struct {
	Layout
	Created   bool     `json:"created"`
	Documents []string `json:"documents"`
}

// Materializer writes a workspace under one state directory.
type Materializer struct {
	layout   Layout
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Materializer for stateDir. The state directory must
// already be resolved; Materializer never consults the environment.
func New(stateDir string, settings Settings, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		layout:   NewLayout(stateDir),
		settings: settings.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// Layout returns the paths this Materializer writes to.
func (m *Materializer) Layout() Layout { return m.layout }

// Exists reports whether the workspace has been materialized.
func (m *Materializer) Exists() bool { return Exists(m.layout.StateDir) }

// Materialize creates the workspace if its control-file is absent. If
// the control-file exists nothing is read or written and Created is
// false. Filesystem errors are returned as-is, wrapped with the path.
func (m *Materializer) Materialize() (Result, error) {
	res := Result{Layout: m.layout, Documents: []string{}}

	if m.Exists() {
		m.logger.Debug("workspace already materialized", "control_file", m.layout.ControlPath)
		return res, nil
	}

	for _, dir := range []string{m.layout.StateDir, m.layout.WorkspaceDir, m.layout.MemoryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return res, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	data := templateData{
		Date:      m.now().Format(time.DateOnly),
		ServerURL: m.settings.ServerURL,
		Namespace: m.settings.Identity.Namespace,
		Project:   m.settings.Identity.Project,
		ModelName: m.settings.ModelName,
	}
	for _, name := range Documents {
		content, err := renderDocument(name, data)
		if err != nil {
			return res, err
		}
		path := filepath.Join(m.layout.WorkspaceDir, name)
		if err := writeFileAtomic(path, content, 0o644); err != nil {
			return res, err
		}
		res.Documents = append(res.Documents, name)
	}

	control, err := json.MarshalIndent(BuildControlFile(m.layout, m.settings), "", "  ")
	if err != nil {
		return res, fmt.Errorf("encode %s: %w", ControlFileName, err)
	}
	if err := writeFileAtomic(m.layout.ControlPath, append(control, '\n'), 0o644); err != nil {
		return res, err
	}

	res.Created = true
	m.logger.Info("workspace materialized",
		"state_dir", m.layout.StateDir,
		"documents", len(res.Documents),
	)
	return res, nil
}

type templateData struct {
	Date      string
	ServerURL string
	Namespace string
	Project   string
	ModelName string
}

func renderDocument(name string, data templateData) ([]byte, error) {
	raw, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes through a temp file and renames it into place
// so a crash never leaves a truncated file behind.
func writeFileAtomic(path string, content []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	_, writeErr := f.Write(content)
	syncErr := f.Sync()
	closeErr := f.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ControlFile is the host configuration written to moltbot.json.
type ControlFile struct {
	Gateway GatewaySection `json:"gateway"`
	Agents  AgentsSection  `json:"agents"`
	Models  ModelsSection  `json:"models"`
}

// GatewaySection configures the host's gateway listener.
type GatewaySection struct {
	Port int    `json:"port"`
	Mode string `json:"mode"`
}

// AgentsSection holds per-agent defaults.
type AgentsSection struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults points agents at the workspace directory.
type AgentDefaults struct {
	Workspace string `json:"workspace"`
}

// ModelsSection maps provider ids to provider settings.
type ModelsSection struct {
	Providers map[string]provider.Settings `json:"providers"`
}

// BuildControlFile returns the control-file for layout and settings.
func BuildControlFile(layout Layout, settings Settings) ControlFile {
	settings = settings.withDefaults()
	return ControlFile{
		Gateway: GatewaySection{Port: settings.GatewayPort, Mode: settings.GatewayMode},
		Agents:  AgentsSection{Defaults: AgentDefaults{Workspace: layout.WorkspaceDir}},
		Models: ModelsSection{Providers: map[string]provider.Settings{
			provider.ID: provider.BuildSettings(settings.ServerURL, settings.Identity, settings.ModelName),
		}},
	}
}

// Exists reports whether stateDir holds a control-file.
func Exists(stateDir string) bool {
	_, err := os.Stat(filepath.Join(stateDir, ControlFileName))
	return err == nil
}

// ReadControlFile parses the control-file under stateDir. It returns
// nil and no error when the file does not exist.
func ReadControlFile(stateDir string) (*ControlFile, error) {
	path := filepath.Join(stateDir, ControlFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cf ControlFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cf, nil
}
