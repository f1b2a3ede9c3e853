// Package main provides the vault command line entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/urfave/cli/v3"

	vaultcli "github.com/fahmaliyi/csvault/cli"
	"github.com/fahmaliyi/csvault/config"
	"github.com/fahmaliyi/csvault/metrics"
)

func main() {
	memguard.CatchInterrupt()
	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	cfg := config.Load()
	logger := cfg.Logger(os.Stderr)

	var provider *metrics.Provider
	businessMetrics := metrics.NewNoOpBusinessMetrics()
	app := vaultcli.NewApp(cfg, logger, businessMetrics, vaultcli.DefaultIO())

	// Metrics are wired once the global flags are known.
	setup := func(cmd *cli.Command) error {
		app.Path = cmd.String("file")
		app.Plaintext = cmd.Bool("plaintext")
		if provider != nil || (!cfg.MetricsEnabled && cmd.String("metrics-file") == "") {
			return nil
		}
		p, err := metrics.NewProvider()
		if err != nil {
			return fmt.Errorf("failed to create metrics provider: %w", err)
		}
		m, err := metrics.NewBusinessMetrics(p.MeterProvider(), cfg.MetricsNamespace)
		if err != nil {
			return fmt.Errorf("failed to create business metrics: %w", err)
		}
		provider = p
		app.Metrics = m
		return nil
	}
	action := func(fn func(cmd *cli.Command) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			if err := setup(cmd); err != nil {
				return err
			}
			return fn(cmd)
		}
	}

	cmd := &cli.Command{
		Name:      "vault",
		Usage:     "Password vault stored as an encrypted CSV file",
		Version:   "1.0.0",
		ArgsUsage: "[FILE]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Vault file (default: VAULT_FILE or ~/.csvault/vault.csv)",
			},
			&cli.BoolFlag{
				Name:  "plaintext",
				Usage: "Read and write the vault as unencrypted CSV",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write Prometheus metrics to this file on exit",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Create a new empty vault",
				Action: action(func(cmd *cli.Command) error {
					return app.RunInit()
				}),
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List vault entries",
				Action: action(func(cmd *cli.Command) error {
					return app.RunList()
				}),
			},
			{
				Name:      "show",
				Usage:     "Show an entry by its list number",
				ArgsUsage: "N",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "reveal",
						Aliases: []string{"r"},
						Usage:   "Print the password instead of a mask",
					},
				},
				Action: action(func(cmd *cli.Command) error {
					return app.RunShow(cmd.Args().First(), cmd.Bool("reveal"))
				}),
			},
			{
				Name:  "add",
				Usage: "Add an entry; the password is prompted for when not given",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Entry title"},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Username"},
					&cli.StringFlag{Name: "password", Usage: "Password (visible in shell history)"},
					&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "Group"},
					&cli.StringFlag{Name: "url", Usage: "URL"},
					&cli.StringFlag{Name: "notes", Aliases: []string{"n"}, Usage: "Notes"},
				},
				Action: action(func(cmd *cli.Command) error {
					return app.RunAdd(vaultcli.EntryFields{
						Title:    cmd.String("title"),
						Username: cmd.String("user"),
						Password: cmd.String("password"),
						Group:    cmd.String("group"),
						URL:      cmd.String("url"),
						Notes:    cmd.String("notes"),
					})
				}),
			},
			{
				Name:      "rm",
				Usage:     "Delete an entry by its list number",
				ArgsUsage: "N",
				Action: action(func(cmd *cli.Command) error {
					return app.RunRemove(cmd.Args().First())
				}),
			},
			{
				Name:      "import",
				Usage:     "Append the rows of a plaintext CSV file",
				ArgsUsage: "FILE",
				Action: action(func(cmd *cli.Command) error {
					return app.RunImport(cmd.Args().First())
				}),
			},
			{
				Name:      "export",
				Usage:     "Write the vault to a plaintext CSV file",
				ArgsUsage: "FILE",
				Action: action(func(cmd *cli.Command) error {
					return app.RunExport(cmd.Args().First())
				}),
			},
			{
				Name:  "passwd",
				Usage: "Change the master passphrase",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "decrypt",
						Usage: "Store the vault as plaintext instead",
					},
				},
				Action: action(func(cmd *cli.Command) error {
					return app.RunPasswd(cmd.Bool("decrypt"))
				}),
			},
			{
				Name:  "info",
				Usage: "Describe the vault container without decrypting it",
				Action: action(func(cmd *cli.Command) error {
					return app.RunInfo()
				}),
			},
			{
				Name:  "browse",
				Usage: "Browse entries in the terminal UI",
				Action: action(func(cmd *cli.Command) error {
					return app.RunBrowse()
				}),
			},
		},
		Action: action(func(cmd *cli.Command) error {
			if f := cmd.Args().First(); f != "" {
				app.Path = f
			}
			return app.RunBrowse()
		}),
	}

	err := cmd.Run(context.Background(), os.Args)
	if provider != nil {
		if filename := cmd.String("metrics-file"); filename != "" {
			if werr := provider.WriteTextfile(filename); werr != nil {
				logger.Error("failed to write metrics", slog.String("path", filename), slog.Any("error", werr))
			}
		}
		if serr := provider.Shutdown(context.Background()); serr != nil {
			logger.Error("failed to shutdown metrics provider", slog.Any("error", serr))
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
