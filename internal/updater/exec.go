package updater

import (
	"context"
	"fmt"
	"os/exec"
)

// Run invokes script with args and waits for it to exit, grounded on
// cmd/gb/hook.go's exec.CommandContext usage. A non-zero exit is
// reported as an error with the script's combined output attached for
// diagnostics.
func (ExecScriptRunner) Run(ctx context.Context, script string, args ...string) error {
	cmd := exec.CommandContext(ctx, script, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w: %s", script, err, out)
	}
	return nil
}
