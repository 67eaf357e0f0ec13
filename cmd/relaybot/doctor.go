package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const dialTimeout = 5 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay configuration",
		Long: `Verifies that relaybot's environment, configuration, webhook endpoint and
health port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "relaybot doctor v%s\n\n", version)

			var passed, warned, failed int

			// 1. dotenv file
			if _, err := os.Stat(envFile); err != nil {
				printWarn(out, "Env file", fmt.Sprintf("%s not found (process environment only)", envFile))
				warned++
			} else {
				printPass(out, "Env file", envFile)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := loadConfig()
			if err != nil {
				printFail(out, "Config", err.Error())
				failed++
				fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass(out, "Config", "valid")
			passed++

			// 3. Webhook endpoint reachable
			if addr, err := checkWebhook(cmd.Context(), cfg.Webhook.URL); err != nil {
				printFail(out, "Webhook", err.Error())
				failed++
			} else {
				printPass(out, "Webhook", addr)
				passed++
			}

			// 4. Health port free
			if err := checkPort(cfg.Health.Port); err != nil {
				printWarn(out, "Health port", fmt.Sprintf("port %d may be in use: %v", cfg.Health.Port, err))
				warned++
			} else {
				printPass(out, "Health port", fmt.Sprintf(":%d available", cfg.Health.Port))
				passed++
			}

			if len(cfg.Relay.AllowedChannels) == 0 {
				printWarn(out, "Allow-list", "empty, every channel is relayed")
				warned++
			} else {
				printPass(out, "Allow-list", fmt.Sprintf("%d channel(s)", len(cfg.Relay.AllowedChannels)))
				passed++
			}

			fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkWebhook dials the webhook host without sending a request.
func checkWebhook(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("cannot reach %s: %w", addr, err)
	}
	conn.Close()
	return addr, nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-14s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-14s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-14s %s\n", check, detail)
}
