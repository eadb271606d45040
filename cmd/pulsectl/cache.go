package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pulseboard/pulseboard/internal/model"
)

func init() {
	refreshCmd := &cobra.Command{
		Use:   "refresh TYPE",
		Short: "Refresh one cache type, or 'all' for every type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types := []string{args[0]}
			if args[0] == "all" {
				types = model.CacheTypes
			}
			var failed []string
			for _, ct := range types {
				data, err := doPost(fmt.Sprintf("%s/api/v1/cache/refresh/%s", apiFlag, ct))
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", ct, err)
					failed = append(failed, ct)
					continue
				}
				_, _ = fmt.Fprintln(os.Stdout, string(data))
			}
			if len(failed) > 0 {
				return fmt.Errorf("refresh failed for: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	rootCmd.AddCommand(refreshCmd)

	statusCmd := &cobra.Command{
		Use:   "status [TYPE]",
		Short: "Show cache status for one type or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := apiFlag + "/api/v1/cache/status"
			if len(args) == 1 {
				url += "/" + args[0]
			}
			data, err := doGet(url)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(statusCmd)

	unlockCmd := &cobra.Command{
		Use:   "unlock TYPE",
		Short: "Force-clear a stuck refresh flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := doPost(fmt.Sprintf("%s/api/v1/cache/unlock/%s", apiFlag, args[0])); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "unlocked %s\n", args[0])
			return nil
		},
	}
	rootCmd.AddCommand(unlockCmd)
}
