package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/logging"
	"github.com/wagoo/bridge/internal/storage"
)

func newHistoryCmd(o *globalOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded pairing events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.snapshot(cmd)
			if err != nil {
				return err
			}
			log := o.logger(cmd.ErrOrStderr(), cfg.LogLevel)
			store, err := storage.NewSQLiteStore(cfg.EventStore, logging.Component(log, "storage"))
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ListPairingEvents(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No pairing events recorded.")
				return nil
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s  %-12s  %-15s", ev.At.Local().Format("2006-01-02 15:04:05"), ev.Kind, ev.RemoteIP)
				if ev.ConnectionID != "" {
					line += "  " + ev.ConnectionID
				}
				if ev.Reason != "" {
					line += "  (" + ev.Reason + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of events to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}
