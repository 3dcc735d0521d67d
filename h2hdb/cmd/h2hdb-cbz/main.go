// h2hdb-cbz runs the full pipeline: database ingestion, CBZ archive
// building with boilerplate exclusion, and the optional Komga sync.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"go.h2hdb.org/infra/go/httputils"
	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/h2hdb/go/app"
	"go.h2hdb.org/infra/h2hdb/go/config"
	"go.h2hdb.org/infra/h2hdb/go/ingest"
	"go.h2hdb.org/infra/h2hdb/go/komga"
)

func main() {
	cliApp := &cli.App{
		Name:  "h2hdb-cbz",
		Usage: "ingest galleries, build CBZ archives and sync the media server",
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
	if cfg.H2H.CBZPath == "" {
		return skerr.Fmt("h2h.cbz_path must be set for h2hdb-cbz")
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

	var media ingest.MediaSyncer
	if cfg.MediaServer.BaseURL != "" {
		client := komga.NewClient(cfg.MediaServer, httputils.DefaultClientConfig().Client())
		media = komga.NewSyncer(client, st)
	}
	return ingest.NewOrchestrator(cfg.H2H, st, media).Run(ctx)
}
