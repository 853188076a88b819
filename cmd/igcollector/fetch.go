package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"igcollector/pkg/models"
	"igcollector/pkg/scraper"
	"igcollector/pkg/ui"
)

var (
	fetchWorkers  int
	fetchMaxPages int
	fetchAmount   int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <profile|hashtag> <name>...",
	Short: "Fetch content for one or more targets",
	Long: `Fetch profile or hashtag posts with sessions from the pool and store them.

Interrupted fetches resume where they stopped on the next run. A re-fetch of
a covered target stops at the first page with nothing new.`,
	Example: `  igcollector fetch profile nasa esa
  igcollector fetch hashtag golang rust --amount 50`,
	Args: cobra.MinimumNArgs(2),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().IntVarP(&fetchWorkers, "workers", "w", 0, "concurrent fetches (1-10)")
	fetchCmd.Flags().IntVar(&fetchMaxPages, "max-pages", 0, "stop after this many pages per target")
	fetchCmd.Flags().IntVar(&fetchAmount, "amount", 0, "items per hashtag (default from config)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	kind := models.TargetKind(args[0])
	if kind != models.TargetProfile && kind != models.TargetHashtag {
		return fmt.Errorf("unknown target kind %q, want profile or hashtag", args[0])
	}

	a, err := newApp(map[string]interface{}{"workers": fetchWorkers, "max-pages": fetchMaxPages})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.PrintLogo()
	var batch scraper.Batch
	if kind == models.TargetHashtag {
		batch = a.scraper.SearchHashtags(ctx, args[1:], fetchAmount)
	} else {
		batch = a.scraper.FetchMany(ctx, targets(kind, args[1:]))
	}

	fmt.Println(ui.ResultTable(batch.Results))
	switch batch.Status {
	case scraper.StatusSuccess:
		ui.PrintSuccess("All targets fetched")
	case scraper.StatusPartialSuccess:
		ui.PrintWarning("Some targets are incomplete; run again to resume")
	default:
		return fmt.Errorf("every target failed")
	}
	return nil
}

func targets(kind models.TargetKind, names []string) []models.Target {
	out := make([]models.Target, 0, len(names))
	for _, name := range names {
		out = append(out, models.Target{Kind: kind, Name: name})
	}
	return out
}

