package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"virtgate/internal/app"
	"virtgate/internal/auth"
	"virtgate/internal/config"
	"virtgate/internal/validation"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("virtgate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "virtgate",
		Short: "REST gateway for virtual machines, storage and networks",
		Example: `  # Serve the API with ./virtgate.yaml or built-in defaults
  virtgate serve

  # Vet a request schema before deploying it
  virtgate schema check ./api.json

  # Produce a password hash for auth.users
  echo -n secret | virtgate hash-password`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(
		newServeCommand(),
		newSchemaCommand(),
		newHashPasswordCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		plugins    []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			application, err := app.New(cfg, app.WithPlugins(plugins...))
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	cmd.Flags().StringSliceVar(&plugins, "plugin", nil, "UI plugin to advertise (repeatable)")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect request validation schemas",
	}

	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Compile a schema file and list the operations it covers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ops, err := validation.Check(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			for _, op := range ops {
				fmt.Fprintln(cmd.OutOrStdout(), op)
			}
			return nil
		},
	}

	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the built-in schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(validation.DefaultSchema())
			return err
		},
	}

	cmd.AddCommand(check, dump)
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin for the auth.users setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readPassword returns the first line of r without its line ending
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "virtgate %s (commit %s, built %s)\n", app.Version, app.Commit, app.BuildTime)
		},
	}
}
