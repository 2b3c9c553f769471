package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	"github.com/rayven122/tumiki-sub015/internal/toolname"
)

// adminCmd creates the admin command.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
		Long:  `Administrative commands for operating the MCP Gateway.`,
	}

	cmd.AddCommand(checkConfigCmd())
	cmd.AddCommand(parseToolCmd())
	cmd.AddCommand(hashKeyCmd())

	return cmd
}

// checkConfigCmd loads and validates a configuration file and prints the
// limits it resolves to.
func checkConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Configuration OK")
			_, _ = fmt.Fprintf(out, "Listen: %s:%d (metrics %d)\n", cfg.Server.Host, cfg.Server.Port, cfg.Server.MetricsPort)
			_, _ = fmt.Fprintf(out, "Sessions: max %d, timeout %s, max errors %d\n",
				cfg.Sessions.MaxSessions, cfg.Sessions.Timeout, cfg.Sessions.MaxErrorCount)
			_, _ = fmt.Fprintf(out, "Pool: %d per server, idle %s\n",
				cfg.Pool.MaxConnectionsPerServer, cfg.Pool.IdleTimeout)
			_, _ = fmt.Fprintf(out, "Recovery: %d attempts, base %s, max %s\n",
				cfg.Recovery.MaxRetryAttempts, cfg.Recovery.BaseDelay, cfg.Recovery.MaxDelay)
			_, _ = fmt.Fprintf(out, "Cache: %s\n", cfg.Cache.Provider)
			_, _ = fmt.Fprintf(out, "Analytics: %t\n", cfg.Analytics.Enabled)
			_, _ = fmt.Fprintf(out, "Shutdown grace: %s\n", cfg.Shutdown.GracePeriod)

			return nil
		},
	}

	cmd.Flags().StringP("config", "c", defaultConfigPath, "Path to configuration file")

	return cmd
}

// parseToolCmd shows how a qualified tool name is split.
func parseToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-tool [name]",
		Short: "Split a qualified tool name into its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			full := args[0]

			parse := toolname.Parse
			if strings.Count(full, toolname.Separator) == 2 {
				parse = toolname.ParseUnified
			}

			name, err := parse(full)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if name.Unified() {
				_, _ = fmt.Fprintf(out, "Server: %s\n", name.Server)
			}

			_, _ = fmt.Fprintf(out, "Instance: %s\n", name.Instance)
			_, _ = fmt.Fprintf(out, "Tool: %s\n", name.Tool)

			return nil
		},
	}
}

// hashKeyCmd prints the stored form of an API key read from stdin, so the
// key never lands in shell history.
func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an API key read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey(cmd.InOrStdin())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), auth.HashAPIKey(key))

			return nil
		},
	}
}

func readKey(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read key: %w", err)
	}

	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("no key provided on stdin")
	}

	return key, nil
}
