// Package app holds the startup plumbing shared by the h2hdb binaries:
// log sink wiring from the config and database bring-up.
package app

import (
	"context"
	"os"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/go/sklog/chatlogging"
	"go.h2hdb.org/infra/go/sklog/sklogimpl"
	"go.h2hdb.org/infra/go/sklog/stdlogging"
	"go.h2hdb.org/infra/h2hdb/go/config"
	"go.h2hdb.org/infra/h2hdb/go/schema"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
	"go.h2hdb.org/infra/h2hdb/go/store"
)

// SetupLogging wires the sklog sinks from the logger config: an optional
// log file, an optional chat webhook, and stderr. The stderr sink is
// registered last: its Fatal handler exits the process, so every other
// sink must have seen the entry first.
func SetupLogging(cfg config.LoggerConfig) error {
	level, err := sklogimpl.SeverityFromString(cfg.Level)
	if err != nil {
		return skerr.Wrap(err)
	}
	sklogimpl.SetMinLogLevel(level)
	sklogimpl.SetMaxEntryLength(cfg.MaxLogEntryLength)

	var sinks []sklogimpl.Logger
	if cfg.WriteToFile != "" {
		f, err := os.OpenFile(cfg.WriteToFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return skerr.Wrapf(err, "opening log file %s", cfg.WriteToFile)
		}
		sinks = append(sinks, stdlogging.New(f))
	}
	if cfg.SynoChatWebhook != "" {
		sinks = append(sinks, chatlogging.New(cfg.SynoChatWebhook))
	}
	if cfg.DisplayOnScreen || len(sinks) == 0 {
		sinks = append(sinks, stdlogging.New(os.Stderr))
	}

	sklogimpl.SetLogger(sinks[0])
	for _, s := range sinks[1:] {
		sklogimpl.AddLogger(s)
	}
	return nil
}

// OpenStore connects to the configured database, checks the server's
// character set and creates any missing tables and views, returning the
// ready store.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (*store.Store, error) {
	db, err := sqldb.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateServerSettings(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := schema.CreateMainTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	sklog.Infof("Connected to %s/%s.", cfg.Host, cfg.Database)
	return store.New(db), nil
}
