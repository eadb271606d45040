package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one activity sync pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doPost(apiFlag + "/api/v1/activities/sync")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(syncCmd)

	var fromFlag, toFlag string
	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild daily summaries for a day range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"from": {fromFlag}}
			if toFlag != "" {
				q.Set("to", toFlag)
			}
			data, err := doPost(apiFlag + "/api/v1/activities/aggregate?" + q.Encode())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	aggregateCmd.Flags().StringVar(&fromFlag, "from", "", "First day, YYYY-MM-DD (required)")
	aggregateCmd.Flags().StringVar(&toFlag, "to", "", "Last day, YYYY-MM-DD (defaults to today)")
	_ = aggregateCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(aggregateCmd)
}
