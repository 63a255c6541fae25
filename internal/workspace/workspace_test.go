package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nugget/farmlink/internal/llamafarm"
)

func testSettings() Settings {
	return Settings{
		ServerURL: "http://localhost:8000/",
		Identity:  llamafarm.Identity{Namespace: "moltbot", Project: "agent"},
		ModelName: "qwen3-8b",
	}
}

func newTestMaterializer(t *testing.T) *Materializer {
	t.Helper()
	m := New(filepath.Join(t.TempDir(), "state"), testSettings(), nil)
	m.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return m
}

func TestMaterialize_FirstRunCreatesEverything(t *testing.T) {
	m := newTestMaterializer(t)

	if m.Exists() {
		t.Fatal("fresh state dir reported as existing")
	}

	res, err := m.Materialize()
	if err != nil {
		t.Fatalf("Materialize error: %v", err)
	}
	if !res.Created {
		t.Error("first run should report created")
	}
	if !reflect.DeepEqual(res.Documents, Documents) {
		t.Errorf("Documents = %v, want %v", res.Documents, Documents)
	}

	for _, dir := range []string{res.StateDir, res.WorkspaceDir, res.MemoryDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s missing: %v", dir, err)
		}
	}
	for _, name := range Documents {
		data, err := os.ReadFile(filepath.Join(res.WorkspaceDir, name))
		if err != nil {
			t.Errorf("document %s: %v", name, err)
			continue
		}
		if strings.Contains(string(data), "{{") {
			t.Errorf("document %s has unrendered template actions", name)
		}
	}
	if !m.Exists() {
		t.Error("Exists false after materialize")
	}

	leftovers, _ := filepath.Glob(filepath.Join(res.WorkspaceDir, "*.tmp"))
	if len(leftovers) > 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestMaterialize_RenderedValues(t *testing.T) {
	m := newTestMaterializer(t)
	res, err := m.Materialize()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		doc  string
		want string
	}{
		{"IDENTITY.md", "2026-03-14"},
		{"AGENTS.md", "http://localhost:8000\n"},
		{"AGENTS.md", "moltbot/agent"},
		{"AGENTS.md", "qwen3-8b"},
		{"TOOLS.md", "llamafarm-notify"},
		{"TOOLS.md", "llamafarm-control"},
		{"TOOLS.md", "llamafarm-move"},
		{"SOUL.md", "# Soul"},
		{"MEMORY.md", "# Memory"},
		{"USER.md", "# User Profile"},
	}
	for _, tt := range tests {
		data, err := os.ReadFile(filepath.Join(res.WorkspaceDir, tt.doc))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), tt.want) {
			t.Errorf("%s missing %q", tt.doc, tt.want)
		}
	}
}

func TestMaterialize_SecondRunIsNoop(t *testing.T) {
	m := newTestMaterializer(t)
	if _, err := m.Materialize(); err != nil {
		t.Fatal(err)
	}

	soul := filepath.Join(m.Layout().WorkspaceDir, "SOUL.md")
	if err := os.WriteFile(soul, []byte("# My soul\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(m.Layout().WorkspaceDir, "USER.md")); err != nil {
		t.Fatal(err)
	}

	res, err := m.Materialize()
	if err != nil {
		t.Fatalf("second Materialize error: %v", err)
	}
	if res.Created {
		t.Error("second run reported created")
	}
	if len(res.Documents) != 0 {
		t.Errorf("second run wrote %v", res.Documents)
	}

	data, _ := os.ReadFile(soul)
	if string(data) != "# My soul\n" {
		t.Errorf("user edit overwritten: %q", data)
	}
	if _, err := os.Stat(filepath.Join(m.Layout().WorkspaceDir, "USER.md")); !os.IsNotExist(err) {
		t.Error("deleted document was restored")
	}
}

func TestMaterialize_PartialRunIsRedone(t *testing.T) {
	m := newTestMaterializer(t)
	l := m.Layout()
	if err := os.MkdirAll(l.WorkspaceDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(l.WorkspaceDir, "SOUL.md")
	if err := os.WriteFile(stale, []byte("half written"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := m.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created || len(res.Documents) != len(Documents) {
		t.Errorf("result = %+v", res)
	}
	data, _ := os.ReadFile(stale)
	if !strings.HasPrefix(string(data), "# Soul") {
		t.Errorf("stale document not rewritten: %q", data)
	}
}

func TestMaterialize_FilesystemErrorSurfaces(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "state")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := New(blocker, testSettings(), nil).Materialize()
	if err == nil {
		t.Fatal("expected error when state dir is a file")
	}
	if res.Created {
		t.Error("failed run reported created")
	}
	if Exists(blocker) {
		t.Error("control-file must not exist after failure")
	}
}

func TestControlFile(t *testing.T) {
	m := newTestMaterializer(t)
	if cf, err := ReadControlFile(m.Layout().StateDir); err != nil || cf != nil {
		t.Fatalf("absent control-file = %+v, %v", cf, err)
	}
	if _, err := m.Materialize(); err != nil {
		t.Fatal(err)
	}

	cf, err := ReadControlFile(m.Layout().StateDir)
	if err != nil || cf == nil {
		t.Fatalf("ReadControlFile = %+v, %v", cf, err)
	}
	if cf.Gateway.Port != 3332 || cf.Gateway.Mode != "local" {
		t.Errorf("gateway = %+v", cf.Gateway)
	}
	if cf.Agents.Defaults.Workspace != m.Layout().WorkspaceDir {
		t.Errorf("workspace = %q", cf.Agents.Defaults.Workspace)
	}
	lf, ok := cf.Models.Providers["llamafarm"]
	if !ok {
		t.Fatalf("providers = %+v", cf.Models.Providers)
	}
	if lf.BaseURL != "http://localhost:8000/v1/projects/moltbot/agent" {
		t.Errorf("baseUrl = %q", lf.BaseURL)
	}
	if lf.API != "openai-completions" || lf.AuthHeader {
		t.Errorf("provider = %+v", lf)
	}
	if len(lf.Models) != 1 || lf.Models[0].ID != "qwen3-8b" || lf.Models[0].ContextWindow != 32000 || lf.Models[0].MaxTokens != 8192 {
		t.Errorf("models = %+v", lf.Models)
	}
}

func TestControlFile_WireShape(t *testing.T) {
	m := newTestMaterializer(t)
	if _, err := m.Materialize(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(m.Layout().ControlPath)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	model := raw["models"].(map[string]any)["providers"].(map[string]any)["llamafarm"].(map[string]any)["models"].([]any)[0].(map[string]any)
	for _, key := range []string{"id", "name", "api", "reasoning", "input", "cost", "contextWindow", "maxTokens"} {
		if _, ok := model[key]; !ok {
			t.Errorf("model definition missing %q", key)
		}
	}
	cost := model["cost"].(map[string]any)
	for _, key := range []string{"input", "output", "cacheRead", "cacheWrite"} {
		if cost[key] != float64(0) {
			t.Errorf("cost.%s = %v", key, cost[key])
		}
	}
}

func TestReadControlFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ControlFileName), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadControlFile(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestInventory(t *testing.T) {
	m := newTestMaterializer(t)
	if _, err := m.Materialize(); err != nil {
		t.Fatal(err)
	}

	docs, err := Inventory(m.Layout().WorkspaceDir)
	if err != nil {
		t.Fatalf("Inventory error: %v", err)
	}
	if len(docs) != len(Documents) {
		t.Fatalf("got %d documents", len(docs))
	}

	titles := map[string]string{}
	for _, d := range docs {
		titles[d.Name] = d.Title
		if d.Size == 0 {
			t.Errorf("%s has zero size", d.Name)
		}
	}
	want := map[string]string{
		"AGENTS.md":   "Agents",
		"IDENTITY.md": "Identity",
		"MEMORY.md":   "Memory",
		"SOUL.md":     "Soul",
		"TOOLS.md":    "Tools",
		"USER.md":     "User Profile",
	}
	if !reflect.DeepEqual(titles, want) {
		t.Errorf("titles = %v", titles)
	}
	if docs[0].Name != "AGENTS.md" {
		t.Errorf("not sorted: first = %s", docs[0].Name)
	}
}

func TestInventory_Sections(t *testing.T) {
	dir := t.TempDir()
	src := "intro\n\n# Title\n\n## One\n\n### nested\n\n## Two\n\n# Later\n"
	if err := os.WriteFile(filepath.Join(dir, "x.md"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("# no"), 0o644); err != nil {
		t.Fatal(err)
	}

	docs, err := Inventory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].Title != "Title" {
		t.Errorf("Title = %q", docs[0].Title)
	}
	if !reflect.DeepEqual(docs[0].Sections, []string{"One", "Two"}) {
		t.Errorf("Sections = %v", docs[0].Sections)
	}
}
