package connectivity

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NmcliLink drives the Pi's wireless interface through NetworkManager.
type NmcliLink struct {
	Interface string
	SSID      string
	Password  string
	// Wait bounds how long nmcli itself waits for activation.
	Wait time.Duration

	run Runner
}

func NewNmcliLink(iface, ssid, password string) *NmcliLink {
	return &NmcliLink{
		Interface: iface,
		SSID:      ssid,
		Password:  password,
		Wait:      20 * time.Second,
		run:       execRunner,
	}
}

// WithRunner replaces the command runner. Used by tests.
func (l *NmcliLink) WithRunner(r Runner) *NmcliLink {
	l.run = r
	return l
}

func (l *NmcliLink) nmcli(ctx context.Context, args ...string) error {
	full := append([]string{"--wait", strconv.Itoa(int(l.Wait.Seconds()))}, args...)
	out, err := l.run(ctx, "nmcli", full...)
	if err == nil {
		return nil
	}
	// Only the object and verb are logged; the arguments may hold the passphrase.
	what := strings.Join(args[:min(len(args), 2)], " ")
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return fmt.Errorf("nmcli %s: %w: %s", what, err, msg)
	}
	return fmt.Errorf("nmcli %s: %w", what, err)
}

func (l *NmcliLink) Configure(ctx context.Context) error {
	if err := l.nmcli(ctx, "radio", "wifi", "on"); err != nil {
		return err
	}
	return l.nmcli(ctx, "device", "set", l.Interface, "managed", "yes")
}

// Connect joins SSID when one is configured, otherwise it lets
// NetworkManager pick the saved profile for the interface.
func (l *NmcliLink) Connect(ctx context.Context) error {
	if l.SSID == "" {
		return l.nmcli(ctx, "device", "connect", l.Interface)
	}
	args := []string{"device", "wifi", "connect", l.SSID}
	if l.Password != "" {
		args = append(args, "password", l.Password)
	}
	args = append(args, "ifname", l.Interface)
	return l.nmcli(ctx, args...)
}

func (l *NmcliLink) Disconnect(ctx context.Context) error {
	return l.nmcli(ctx, "device", "disconnect", l.Interface)
}
