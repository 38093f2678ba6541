// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}
}

// setupCommand handles setup operations for the database and configuration.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a config file with default settings",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// postCommand handles posts written while offline.
func postCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "post",
		Usage: "Offline posts",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Store a post to publish on the next drain",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "content"},
				},
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "media",
						Aliases: []string{"m"},
						Usage:   "Media URL to attach (repeatable, up to 4)",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Hashtag to add besides those in the content",
					},
					&cli.StringFlag{
						Name:  "reply-to",
						Usage: "ID of the post this replies to",
					},
				},
				Action: r.PostAdd,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List offline posts",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only show posts with this status (pending, syncing, failed, synced)",
					},
					jsonFlag(),
				},
				Action: r.PostList,
			},
			{
				Name:  "remove",
				Usage: "Delete an offline post",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.PostRemove,
			},
			{
				Name:  "retry",
				Usage: "Make one delivery attempt for a pending or failed post",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.PostRetry,
			},
		},
	}
}

// queueCommand handles queued operations and dead letters.
func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "Queued operations",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Queue an operation for replay",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "action"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "method",
						Usage: "HTTP method used on replay",
						Value: "POST",
					},
					&cli.StringFlag{
						Name:  "endpoint",
						Usage: "Backend path (default: /rest/v1/{action})",
					},
					&cli.StringFlag{
						Name:    "args",
						Aliases: []string{"d"},
						Usage:   "JSON object or array sent as the request body",
					},
				},
				Action: r.QueueAdd,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List queued operations in replay order",
				Flags:   []cli.Flag{jsonFlag()},
				Action:  r.QueueList,
			},
			{
				Name:  "status",
				Usage: "Show queue counts",
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.BoolFlag{
						Name:  "probe",
						Usage: "Check whether the backend is reachable",
					},
					&cli.IntFlag{
						Name:  "history",
						Usage: "Show the last N drains",
					},
				},
				Action: r.QueueStatus,
			},
			{
				Name:  "remove",
				Usage: "Remove a queued operation",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.QueueRemove,
			},
			{
				Name:  "clear",
				Usage: "Remove all posts, queued operations and dead letters",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Do not ask for confirmation",
					},
				},
				Action: r.QueueClear,
			},
			{
				Name:   "dead",
				Usage:  "List operations that were set aside",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.QueueDead,
			},
			{
				Name:  "requeue",
				Usage: "Move a dead letter back to the end of the queue",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.QueueRequeue,
			},
			{
				Name:  "discard",
				Usage: "Delete a dead letter, or all with --all",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Discard every dead letter",
					},
				},
				Action: r.QueueDiscard,
			},
			{
				Name:  "export",
				Usage: "Write the queue contents to files",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Formats to write: json, csv, markdown, txt",
						Value:   []string{"json"},
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory (default: murmur_export_{epoch})",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent writers",
						Value: 3,
					},
				},
				Action: r.QueueExport,
			},
		},
	}
}

// syncCommand handles replaying the queue.
func syncCommand(r *Runner) *cli.Command {
	drainFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.BoolFlag{
				Name:  "continue",
				Usage: "Keep replaying after a retryable failure instead of stopping",
			},
			&cli.BoolFlag{
				Name:  "keep-synced",
				Usage: "Leave synced posts in the queue",
			},
		}
	}

	return &cli.Command{
		Name:  "sync",
		Usage: "Replay the queue against the backend",
		Commands: []*cli.Command{
			{
				Name:  "drain",
				Usage: "Replay posts and queued operations once",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:  "recover",
						Usage: "Mark posts stuck in syncing as failed first (only when no other drain runs)",
					},
				}, drainFlags()...),
				Action: r.SyncDrain,
			},
			{
				Name:   "watch",
				Usage:  "Drain whenever the backend becomes reachable or the queue changes",
				Flags:  drainFlags(),
				Action: r.SyncWatch,
			},
		},
	}
}

// authCommand handles the backend session token.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the backend session",
		Commands: []*cli.Command{
			{
				Name:  "token",
				Usage: "Store an access token in the config file",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "token"},
				},
				Action: r.AuthToken,
			},
			{
				Name:  "import",
				Usage: "Read the backend URL, anon key and token from a request copied with \"Copy as cURL\"",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "file"},
				},
				Action: r.AuthImport,
			},
			{
				Name:   "status",
				Usage:  "Check that the backend is reachable and the token is accepted",
				Action: r.AuthStatus,
			},
		},
	}
}

// apiCommand handles direct API calls.
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct calls to the backend API",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
		},
	}
}

// serveCommand runs the local status server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve queue status over HTTP for local tools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: [server] host and port)",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Also drain when the backend becomes reachable",
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch interactive TUI for the offline queue",
		Action:  r.TUI,
	}
}
