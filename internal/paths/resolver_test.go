package paths

import (
	"path/filepath"
	"testing"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestStateDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		name       string
		env        map[string]string
		configured string
		want       string
	}{
		{"default", nil, "", filepath.Join(home, ".llamafarm", "moltbot-workspace")},
		{"configured", nil, "/srv/molt", "/srv/molt"},
		{"configured tilde", nil, "~/molt", filepath.Join(home, "molt")},
		{"env wins", map[string]string{StateDirEnv: "/tmp/state"}, "/srv/molt", "/tmp/state"},
		{"blank env ignored", map[string]string{StateDirEnv: "  "}, "/srv/molt", "/srv/molt"},
		{"env tilde", map[string]string{StateDirEnv: "~"}, "", home},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateDir(env(tt.env), tt.configured); got != tt.want {
				t.Errorf("StateDir = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateDir_NilLookup(t *testing.T) {
	if got := StateDir(nil, "/x"); got != "/x" {
		t.Errorf("StateDir(nil) = %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct{ in, want string }{
		{"/abs", "/abs"},
		{"rel/path", "rel/path"},
		{"~", home},
		{"~/a/b", filepath.Join(home, "a", "b")},
		{"~other/x", "~other/x"},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
