package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"igcollector/pkg/models"
	"igcollector/pkg/storage"
	"igcollector/pkg/ui"
)

var (
	contentOffset int
	contentLimit  int
	exportDir     string
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Inspect collected content",
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collected targets",
	Args:  cobra.NoArgs,
	RunE:  runContentList,
}

var contentShowCmd = &cobra.Command{
	Use:     "show <profile|hashtag> <name>",
	Short:   "Show the items of a target",
	Example: `  igcollector content show profile nasa --offset 20 --limit 20`,
	Args:    cobra.ExactArgs(2),
	RunE:    runContentShow,
}

var contentExportCmd = &cobra.Command{
	Use:   "export <profile|hashtag> <name>",
	Short: "Write the items of a target as JSON files",
	Long: `Write every stored item of a target to <dir>/<kind>_<name>/<code>.json.
Items already exported are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: runContentExport,
}

func init() {
	rootCmd.AddCommand(contentCmd)
	contentCmd.AddCommand(contentListCmd, contentShowCmd, contentExportCmd)

	for _, c := range []*cobra.Command{contentListCmd, contentShowCmd} {
		c.Flags().IntVar(&contentOffset, "offset", 0, "skip this many entries")
		c.Flags().IntVar(&contentLimit, "limit", 20, "show at most this many entries")
	}
	contentExportCmd.Flags().StringVarP(&exportDir, "output", "o", "export", "output directory")
}

func parseTarget(kind, name string) (models.Target, error) {
	t := models.Target{Kind: models.TargetKind(kind), Name: name}
	return t, t.Validate()
}

func runContentList(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	records, total, err := a.store.ListContentRecords(cmd.Context(), contentOffset, contentLimit)
	if err != nil {
		return err
	}
	if total == 0 {
		ui.PrintWarning("Nothing collected yet")
		return nil
	}
	fmt.Println(ui.RecordTable(records))
	ui.PrintInfo("Records", fmt.Sprintf("%d-%d of %d", contentOffset+1, contentOffset+len(records), total))
	return nil
}

func runContentShow(cmd *cobra.Command, args []string) error {
	target, err := parseTarget(args[0], args[1])
	if err != nil {
		return err
	}
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	items, total, err := a.store.GetContentItems(cmd.Context(), target, contentOffset, contentLimit)
	if err != nil {
		return err
	}
	fmt.Println(ui.ItemTable(items))
	ui.PrintInfo("Items", fmt.Sprintf("%d-%d of %d", contentOffset+1, contentOffset+len(items), total))
	return nil
}

func runContentExport(cmd *cobra.Command, args []string) error {
	target, err := parseTarget(args[0], args[1])
	if err != nil {
		return err
	}
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	exp, err := storage.NewExporter(filepath.Join(exportDir, string(target.Kind)+"_"+target.Name))
	if err != nil {
		return err
	}
	n, err := exp.Export(cmd.Context(), a.store, target)
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Exported %d new items to %s (%d total)", n, exp.OutputDir(), exp.Count()))
	return nil
}
