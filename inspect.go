package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docintake/internal/redis"
	"docintake/internal/session"
	"docintake/internal/storage"
)

type historyEntry struct {
	Kind      session.EventKind `json:"kind"`
	Status    string            `json:"status,omitempty"`
	Documents int               `json:"documents"`
	At        time.Time         `json:"at"`
}

func newHistoryCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the audit trail of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			dbType := auditDriver()
			db, ok, err := openAuditDB(cfg, dbType)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("audit trail not configured for %s", dbType)
			}
			defer db.Close()

			events, err := storage.SessionHistory(cmd.Context(), db, args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no history for session %s", args[0])
			}
			out := make([]historyEntry, len(events))
			for i, e := range events {
				out[i] = historyEntry{Kind: e.Kind, Status: string(e.Status), Documents: e.Documents, At: e.At.UTC()}
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (json or yaml)")
	return cmd
}

func newCommittedCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "committed <session-id>",
		Short: "Print the committed snapshot handed off for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, closeFn, err := openPublisher(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer closeFn()

			view, ttl, err := pub.Committed(cmd.Context(), args[0])
			if errors.Is(err, redis.ErrNotCommitted) {
				return fmt.Errorf("session %s has no committed snapshot", args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd, struct {
				Session   *session.View `json:"session"`
				ExpiresIn string        `json:"expiresIn"`
			}{view, ttl.Round(time.Second).String()})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (json or yaml)")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream committed sessions as they are handed off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pub, closeFn, err := openPublisher(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer closeFn()

			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := pub.Subscribe(ctx, func(view *session.View) {
				if err := enc.Encode(view); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "write session %s: %v\n", view.ID, err)
				}
			}); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (json or yaml)")
	return cmd
}

func openPublisher(ctx context.Context, cfgPath string) (*redis.Publisher, func(), error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Redis.Enabled() {
		return nil, nil, errors.New("redis is not configured")
	}
	client, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	pub := redis.NewPublisher(client, cfg.Redis.Channel, cfg.Session.TTL(), newLogger(cfg.BasicConfig.LogLevel))
	return pub, func() { client.Close() }, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
