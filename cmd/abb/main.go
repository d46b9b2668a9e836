package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

func getDefaultLogger(lvl slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.Function = ""
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

func main() {
	// Configure structured logging
	logger := getDefaultLogger(slog.LevelInfo)

	app := &cli.App{
		Name:  "abb",
		Usage: "Agent Bounty Board CLI",
		Commands: []*cli.Command{
			{
				Name:        "run",
				Usage:       "Run a service",
				Subcommands: workerCommands(),
			},
			{
				Name:        "admin",
				Usage:       "Admin commands",
				Subcommands: adminCommands(),
			},
			{
				Name:        "debug",
				Usage:       "Debug and development tools",
				Subcommands: debugCommands(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}
}
