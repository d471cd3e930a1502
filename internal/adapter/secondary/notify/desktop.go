package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"tinnicap/internal/adapter/dto"
	"tinnicap/internal/usecase"
)

// commandFunc runs an external program.
type commandFunc func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w, output: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// DesktopNotifier shows violations as desktop notifications: osascript on macOS,
// notify-send elsewhere.
type DesktopNotifier struct {
	goos string
	run  commandFunc
}

// NewDesktopNotifier creates a notifier for the running OS.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{goos: runtime.GOOS, run: runCommand}
}

func (d *DesktopNotifier) Name() string { return "desktop" }

// Handle only reacts to violations; topology changes are not worth a banner.
func (d *DesktopNotifier) Handle(ctx context.Context, ev usecase.Event) error {
	if ev.Kind != usecase.EventLimitViolation || ev.Violation == nil {
		return nil
	}
	return d.Show(ctx, ViolationNotice(*ev.Violation))
}

// Show displays one notice.
func (d *DesktopNotifier) Show(ctx context.Context, n dto.Notice) error {
	if d.goos == "darwin" {
		script := fmt.Sprintf("display notification %s with title %s sound name \"default\"",
			appleScriptString(n.Message), appleScriptString(n.Title))
		return d.run(ctx, "osascript", "-e", script)
	}
	return d.run(ctx, "notify-send", "--app-name=tinnicap", n.Title, n.Message)
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
