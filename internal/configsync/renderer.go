package configsync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ExecRenderer applies one section's JSON by writing it to a temp
// file and invoking the operator-provided render script for that
// section, grounded on original_source/apps/config/renderer/renderer.c's
// apply_config, which hands the JSON config off to a ucode script per
// section rather than parsing it in C.
type ExecRenderer struct {
	ScriptsPath string
	DevEnv      bool
}

func (r ExecRenderer) Render(ctx context.Context, section string, payload json.RawMessage) error {
	if r.DevEnv {
		return nil
	}

	tmp, err := os.CreateTemp("", "wayru-config-"+section+"-*.json")
	if err != nil {
		return fmt.Errorf("configsync: creating render temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("configsync: writing render temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("configsync: closing render temp file: %w", err)
	}

	script := filepath.Join(r.ScriptsPath, "render-config.sh")
	cmd := exec.CommandContext(ctx, script, section, tmp.Name())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("configsync: render script for %s: %w: %s", section, err, out)
	}
	return nil
}
