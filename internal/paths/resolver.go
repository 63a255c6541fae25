// Package paths resolves the farmlink state directory. Resolution runs
// once at the process boundary; components receive the result as a
// plain string and never consult the environment themselves.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// StateDirEnv overrides the state directory when set.
const StateDirEnv = "MOLTBOT_STATE_DIR"

// DefaultStateDir returns ~/.llamafarm/moltbot-workspace, or a relative
// path of the same shape when the home directory is unknown.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".llamafarm", "moltbot-workspace")
	}
	return filepath.Join(home, ".llamafarm", "moltbot-workspace")
}

// StateDir picks the state directory: the environment override first,
// then the configured value, then DefaultStateDir. Tildes are expanded.
// lookup is normally os.LookupEnv.
func StateDir(lookup func(string) (string, bool), configured string) string {
	if lookup != nil {
		if v, ok := lookup(StateDirEnv); ok && strings.TrimSpace(v) != "" {
			return ExpandHome(strings.TrimSpace(v))
		}
	}
	if strings.TrimSpace(configured) != "" {
		return ExpandHome(strings.TrimSpace(configured))
	}
	return DefaultStateDir()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
