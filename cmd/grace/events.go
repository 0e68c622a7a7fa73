package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/grace/config"
	"github.com/becomeliminal/grace/eventlog"
)

func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent audit events",
		Long:  `Print the most recent audit events, newest first, from the event database or, when none is configured, the JSON lines event log.`,
		Args:  cobra.NoArgs,
		RunE:  runEvents,
	}

	cmd.Flags().IntP("number", "n", 20, "Maximum events")
	cmd.Flags().StringP("type", "t", "", "Only show events of this type")
	return cmd
}

func runEvents(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("number")
	eventType, _ := cmd.Flags().GetString("type")
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	events, err := loadEvents(cmd, cfg, limit, eventType)
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		return outputJSON(cmd, events)
	}
	out := cmd.OutOrStdout()
	for _, ev := range events {
		fmt.Fprintf(out, "%s  %-20s  %v\n", ev.Time().Format(time.RFC3339), ev.Type, ev.Data)
	}
	return nil
}

func loadEvents(cmd *cobra.Command, cfg *config.Config, limit int, eventType string) ([]eventlog.Event, error) {
	if cfg.EventLog.SQLitePath != "" {
		db, err := eventlog.NewSQLiteLogger(cfg.EventLog.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open event db: %w", err)
		}
		defer db.Close()
		return db.Recent(cmd.Context(), limit, eventType)
	}
	if cfg.EventLog.Path == "" {
		return nil, errors.New("no event log configured (set event_log.path or GRACE_EVENT_LOG)")
	}

	all, err := eventlog.ReadFile(cfg.EventLog.Path)
	if err != nil {
		return nil, err
	}
	var events []eventlog.Event
	for i := len(all) - 1; i >= 0 && len(events) < limit; i-- {
		if eventType == "" || all[i].Type == eventType {
			events = append(events, all[i])
		}
	}
	return events, nil
}
