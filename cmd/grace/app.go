package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/becomeliminal/grace/config"
	"github.com/becomeliminal/grace/eventlog"
	"github.com/becomeliminal/grace/memory"
	"github.com/becomeliminal/grace/memory/embedder/cache"
	"github.com/becomeliminal/grace/memory/embedder/mock"
	"github.com/becomeliminal/grace/memory/store/chromem"
)

// app wires the memory stack from config for one command invocation.
type app struct {
	cfg      *config.Config
	embedder *cache.Embedder
	store    *chromem.ChromemStore
	manager  *memory.Manager
	bridge   *memory.Bridge

	fileLog   *eventlog.FileLogger
	sqliteLog *eventlog.SQLiteLogger
}

func openApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if err := a.open(cmd); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(cmd *cobra.Command) error {
	var err error
	a.embedder, err = cache.New(mock.New(a.cfg.Embedder.Dimensions), cache.Config{MaxEntries: a.cfg.Embedder.CacheEntries})
	if err != nil {
		return err
	}

	a.store, err = chromem.New(a.embedder, chromem.Config{
		PersistPath: a.cfg.Store.PersistPath,
		Compress:    a.cfg.Store.Compress,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var sinks []memory.AuditLogger
	if p := a.cfg.EventLog.Path; p != "" {
		if a.fileLog, err = eventlog.NewFileLogger(p); err != nil {
			return err
		}
		sinks = append(sinks, a.fileLog)
	}
	if p := a.cfg.EventLog.SQLitePath; p != "" {
		if a.sqliteLog, err = eventlog.NewSQLiteLogger(p); err != nil {
			return fmt.Errorf("open event db: %w", err)
		}
		sinks = append(sinks, a.sqliteLog)
	}

	a.manager, err = memory.NewManager(cmd.Context(), a.store,
		memory.NewAllowList(a.cfg.AuthorizedUsers...),
		a.cfg.MemoryConfig(),
		memory.WithAudit(eventlog.Multi(sinks...)),
		memory.WithLogger(zap.L().Named("memory")),
	)
	if err != nil {
		return err
	}
	a.bridge = memory.NewBridge(a.manager)
	return nil
}

// Close releases every resource that was opened.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		a.embedder.Close()
	}
	if a.fileLog != nil {
		errs = append(errs, a.fileLog.Close())
	}
	if a.sqliteLog != nil {
		errs = append(errs, a.sqliteLog.Close())
	}
	return errors.Join(errs...)
}
