package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"soraq/ledger"
	"soraq/usage"
)

var (
	usageJSON  bool
	usageUser  string
	usageLimit int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect or reset accumulated spend",
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print total spend and per-job history",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		snap := store.Ledger()
		if usageJSON {
			b, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for _, e := range snap.History {
			fmt.Printf("%s  %-28s  $%8.4f  %q\n", e.Timestamp, e.ID, e.Cost, e.Prompt)
		}
		fmt.Printf("Total: $%.4f over %d entries\n", snap.Total, len(snap.History))
		return nil
	},
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero the total and clear the history",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := ledger.NewBook(cfg.HistoryLimit, store.SaveLedger).Reset(); err != nil {
			return err
		}
		fmt.Println("Usage reset")
		return nil
	},
}

var usageLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List submissions logged for a user in the usage backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if usageUser == "" {
			return errors.New("--user is required")
		}
		ctx := context.Background()
		store, err := usage.Open(ctx, cfg.UsageDriver, cfg.UsageDSN)
		if err != nil {
			return err
		}
		rec := usage.NewRecorder(store)
		defer rec.Close()
		if !rec.Enabled() {
			return errors.New("usage logging is disabled (set SORAQ_USAGE_DRIVER)")
		}

		recs, err := rec.Recent(ctx, usageUser, usageLimit)
		if err != nil {
			return err
		}
		if usageJSON {
			b, _ := json.MarshalIndent(recs, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%s  %-28s  %-10s %-9s %2ds  $%.4f  %q\n",
				r.CreatedAt.Format("2006-01-02 15:04:05"), r.JobID, r.Model, r.Resolution, r.Seconds, r.Cost, r.Prompt)
		}
		return nil
	},
}

func init() {
	usageCmd.PersistentFlags().BoolVar(&usageJSON, "json", false, "JSON output")
	usageLogCmd.Flags().StringVar(&usageUser, "user", "", "session user id")
	usageLogCmd.Flags().IntVar(&usageLimit, "limit", 50, "max rows")
	usageCmd.AddCommand(usageShowCmd, usageResetCmd, usageLogCmd)
	rootCmd.AddCommand(usageCmd)
}
