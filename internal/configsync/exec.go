package configsync

import (
	"context"
	"fmt"
	"os/exec"
)

// ExecServiceController restarts services the OpenWrt way: `wifi
// reload` for the wireless section, `/etc/init.d/<service> restart`
// for everything else. Grounded on the same exec.CommandContext
// pattern as updater.ExecScriptRunner (cmd/gb/hook.go).
type ExecServiceController struct{}

// Restart implements ServiceController.
func (ExecServiceController) Restart(ctx context.Context, service string) error {
	var cmd *exec.Cmd
	if service == "wifi" {
		cmd = exec.CommandContext(ctx, "wifi", "reload")
	} else {
		cmd = exec.CommandContext(ctx, "/etc/init.d/"+service, "restart")
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("restarting %s: %w: %s", service, err, out)
	}
	return nil
}
