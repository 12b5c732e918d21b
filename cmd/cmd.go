// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand writes a starter config and prepares the storage directory and history database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml, the storage directory and the history database",
		Action: r.Setup,
	}
}

// authCommand runs the interactive OAuth flow.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize the playlist account with Spotify",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "Print the authorization URL instead of opening a browser",
			},
		},
		Action: r.Auth,
	}
}

// serveCommand runs the engine and the admin surface until interrupted.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"run"},
		Usage:   "Run the playlist engine and the admin server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-checks",
				Usage: "Skip startup diagnostics",
			},
		},
		Action: r.Serve,
	}
}

func serverURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "url",
		Usage: "Base URL of a running onair server (defaults to the configured host and port)",
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the running engine's state",
		Flags: []cli.Flag{
			serverURLFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Status,
	}
}

// adminCommand sends control signals to a running engine.
func adminCommand(r *Runner) *cli.Command {
	signal := func(name, usage string) *cli.Command {
		return &cli.Command{
			Name:   name,
			Usage:  usage,
			Flags:  []cli.Flag{serverURLFlag()},
			Action: r.Admin(name),
		}
	}

	return &cli.Command{
		Name:  "admin",
		Usage: "Control a running engine",
		Commands: []*cli.Command{
			{
				Name:  "pause",
				Usage: "Pause processing",
				Flags: []cli.Flag{
					serverURLFlag(),
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Reason recorded with the transition",
					},
				},
				Action: r.Admin("pause"),
			},
			signal("resume", "Resume processing, overriding the active window when outside it"),
			signal("check", "Poll the feed now"),
			signal("audit", "Run the duplicate audit now"),
			signal("retry", "Retry one queued track now"),
			signal("export", "Write today's export now"),
			signal("reauth", "Reload credentials and re-authenticate the catalog"),
		},
	}
}

func historyCommand(r *Runner) *cli.Command {
	flags := func() []cli.Flag {
		return []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of entries to show",
				Value: 30,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		}
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Read the history database",
		Commands: []*cli.Command{
			{
				Name:   "transitions",
				Usage:  "List recorded state transitions",
				Flags:  flags(),
				Action: r.HistoryTransitions,
			},
			{
				Name:   "summaries",
				Usage:  "List daily summaries",
				Flags:  flags(),
				Action: r.HistorySummaries,
			},
		},
	}
}

// exportCommand writes a day's export without a running engine.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write a daily export from the saved state or the history database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "date",
				Usage: "Day to export as YYYY-MM-DD (defaults to the day in the saved state)",
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"o"},
				Usage:   "Output directory (defaults to export.dir)",
			},
			&cli.StringSliceFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Export format: csv, markdown, text or json (repeatable)",
			},
		},
		Action: r.Export,
	}
}

func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print now playing detections, or stream a running engine's events",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "events",
				Usage: "Stream events from a running server instead of reading the feed",
			},
			&cli.StringSliceFlag{
				Name:  "type",
				Usage: "Only stream these event types (with --events)",
			},
			serverURLFlag(),
		},
		Action: r.Watch,
	}
}

func doctorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "doctor",
		Usage:  "Check credentials, playlist access, the feed and storage",
		Action: r.Doctor,
	}
}
