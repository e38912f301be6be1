package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Capture the configured page once",
		Long: `Launches headless Chrome, loads the target URL with up to three attempts,
and writes either a success record or an error record. The command only fails
when the record itself could not be written.`,
		Args: cobra.NoArgs,
		RunE: runScrapeCommand,
	}
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.Scrape(cmd.Context()); err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	return nil
}
