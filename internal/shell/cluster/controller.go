package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultScript is the control script path inside a runtime install.
const DefaultScript = "bin/runtime"

// ExecController drives runtimes through their control script:
//
//	<home>/<script> start
//	<home>/<script> status   exit 0 when running
type ExecController struct {
	script string
	logger *slog.Logger
}

// NewExecController creates a controller. An empty script selects DefaultScript.
func NewExecController(script string, logger *slog.Logger) *ExecController {
	if script == "" {
		script = DefaultScript
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecController{
		script: script,
		logger: logger.With("component", "runtime_controller"),
	}
}

// IsRunning runs the status command. A non-zero exit means stopped.
func (c *ExecController) IsRunning(ctx context.Context, home string) (bool, error) {
	_, err := c.run(ctx, home, "status")
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// EnsureRunning starts the runtime unless status reports it running.
func (c *ExecController) EnsureRunning(ctx context.Context, home string) error {
	running, err := c.IsRunning(ctx, home)
	if err != nil {
		return err
	}
	if running {
		return nil
	}

	c.logger.Info("starting runtime", "home", home)
	if out, err := c.run(ctx, home, "start"); err != nil {
		return fmt.Errorf("start runtime: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

// Stop stops the runtime.
func (c *ExecController) Stop(ctx context.Context, home string) error {
	if out, err := c.run(ctx, home, "stop"); err != nil {
		return fmt.Errorf("stop runtime: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

func (c *ExecController) run(ctx context.Context, home, action string) (string, error) {
	cmd := exec.CommandContext(ctx, filepath.Join(home, c.script), action)
	cmd.Dir = home
	out, err := cmd.CombinedOutput()
	c.logger.Debug("control script finished", "home", home, "action", action, "error", err)
	return string(out), err
}
