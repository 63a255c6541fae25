package mqtt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// InstanceIDFile is the file under the state directory holding the
// stable instance ID.
const InstanceIDFile = "instance_id"

// LoadOrCreateInstanceID returns the instance ID stored in stateDir,
// creating a UUIDv7 on first use. The ID identifies this installation
// on the broker independently of device_name.
func LoadOrCreateInstanceID(stateDir string) (string, error) {
	path := filepath.Join(stateDir, InstanceIDFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read instance ID: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", stateDir, err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id.String(), nil
}
