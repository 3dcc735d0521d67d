// h2hdb-sql ingests the Hentai@Home download tree into the database:
// galleries, files, digests and tags, with no archive building.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/h2hdb/go/app"
	"go.h2hdb.org/infra/h2hdb/go/config"
	"go.h2hdb.org/infra/h2hdb/go/ingest"
)

func main() {
	cliApp := &cli.App{
		Name:  "h2hdb-sql",
		Usage: "ingest Hentai@Home galleries into the database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.json",
				Usage:   "path to the JSON configuration file",
				EnvVars: []string{"H2HDB_CONFIG"},
			},
		},
		Action: run,
	}
	if err := cliApp.Run(os.Args); err != nil {
		sklog.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := app.SetupLogging(cfg.Logger); err != nil {
		return err
	}
	defer sklog.Flush()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	st, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = st.DB().Close() }()

	// Database only: no archives, no media server.
	h2h := cfg.H2H
	h2h.CBZPath = ""
	return ingest.NewOrchestrator(h2h, st, nil).Run(ctx)
}
