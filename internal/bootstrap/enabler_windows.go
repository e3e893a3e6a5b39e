//go:build windows

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sys/windows/registry"

	"github.com/slimrmm/slimrmm-assist/internal/security/safecmd"
)

const (
	terminalServerKey = `SYSTEM\CurrentControlSet\Control\Terminal Server`
	rdpTCPKey         = `SYSTEM\CurrentControlSet\Control\Terminal Server\WinStations\RDP-Tcp`
	rdpPort           = "3389"
	rdpRuleName       = "SlimRMM Remote Desktop"
)

// WindowsEnabler enables Remote Desktop through the registry and the
// Windows firewall. It needs administrator rights.
type WindowsEnabler struct {
	cmd    safecmd.Config
	logger *slog.Logger
}

// NewEnabler returns the enabler for this platform.
func NewEnabler(logger *slog.Logger) Enabler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowsEnabler{cmd: safecmd.DefaultConfig(), logger: logger}
}

func (e *WindowsEnabler) Supported() bool { return true }

// EnableRemoteDesktop allows incoming RDP connections, opens the firewall
// and relaxes network level authentication.
func (e *WindowsEnabler) EnableRemoteDesktop(ctx context.Context) error {
	if err := setDWORD(terminalServerKey, "fDenyTSConnections", 0); err != nil {
		return &StepError{Step: "allow connections", Err: err}
	}
	e.logger.Debug("remote desktop connections allowed")

	if err := e.netsh(ctx, "advfirewall", "firewall", "set", "rule", `group=remote desktop`, "new", "enable=Yes"); err != nil {
		return &StepError{Step: "firewall group", Err: err}
	}

	if err := setDWORD(rdpTCPKey, "UserAuthentication", 0); err != nil {
		return &StepError{Step: "authentication", Err: err}
	}

	// Recreate the explicit port rule so repeated runs do not pile up duplicates.
	_ = e.netsh(ctx, "advfirewall", "firewall", "delete", "rule", "name="+rdpRuleName)
	if err := e.netsh(ctx, "advfirewall", "firewall", "add", "rule",
		"name="+rdpRuleName, "dir=in", "action=allow", "protocol=TCP", "localport="+rdpPort); err != nil {
		return &StepError{Step: "firewall port", Err: err}
	}

	return nil
}

func (e *WindowsEnabler) netsh(ctx context.Context, args ...string) error {
	out, err := safecmd.CombinedOutput(ctx, e.cmd, "netsh", args...)
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

func setDWORD(path, name string, value uint32) error {
	key, _, err := registry.CreateKey(registry.LOCAL_MACHINE, path, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("opening HKLM\\%s: %w", path, err)
	}
	defer key.Close()

	if err := key.SetDWordValue(name, value); err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	return nil
}
