package main

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.relaybot.relay"
	unitName     = "relaybot.service"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install relaybot as a user service (launchd/systemd)",
		Long:  "Generates a service file that runs 'relaybot run' at login, reading the same env file and config as this invocation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			envPath, err := filepath.Abs(envFile)
			if err != nil {
				return err
			}
			runArgs := serviceArgs(envPath, configPath)

			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(home, execPath, runArgs)
			case "linux":
				return installSystemd(home, execPath, runArgs)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relaybot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			var path string
			switch runtime.GOOS {
			case "darwin":
				path = launchdPath(home)
			case "linux":
				path = systemdPath(home)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	}
}

// serviceArgs is the argument list the service passes to the binary.
func serviceArgs(envPath, cfgPath string) []string {
	args := []string{"run", "--env-file", envPath}
	if cfgPath != "" {
		if abs, err := filepath.Abs(cfgPath); err == nil {
			cfgPath = abs
		}
		args = append(args, "--config", cfgPath)
	}
	return args
}

func launchdPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", unitName)
}

func installLaunchd(home, execPath string, args []string) error {
	plistPath := launchdPath(home)
	logDir := filepath.Join(home, "Library", "Logs", "relaybot")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	plist := launchdPlist(execPath, args, filepath.Join(logDir, "relaybot.log"))

	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", plistPath)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

// launchdPlist renders the agent definition. Every value is XML-escaped.
func launchdPlist(execPath string, args []string, logPath string) string {
	var argXML strings.Builder
	for _, a := range append([]string{execPath}, args...) {
		fmt.Fprintf(&argXML, "        <string>%s</string>\n", xmlEscape(a))
	}
	return strings.NewReplacer(
		"{{LABEL}}", xmlEscape(launchdLabel),
		"{{ARGS}}", argXML.String(),
		"{{LOG}}", xmlEscape(logPath),
	).Replace(launchdTemplate)
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

func installSystemd(home, execPath string, args []string) error {
	unitPath := systemdPath(home)
	unit := strings.ReplaceAll(systemdTemplate, "{{EXEC}}", execPath+" "+strings.Join(args, " "))

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", unitPath)
	fmt.Printf("To start:  systemctl --user start relaybot\n")
	fmt.Printf("To enable: systemctl --user enable relaybot\n")
	fmt.Printf("To stop:   systemctl --user stop relaybot\n")
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
{{ARGS}}    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=relaybot Discord webhook relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
