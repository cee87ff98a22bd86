package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list <resource-type>",
	Short: "Show locally cached resources",
	Long: `Lists the cached documents for one resource type. Optimistic entries
(writes not yet confirmed by the server) are rendered in yellow, pending
deletions in red.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resourceType := args[0]
		docs, err := app.store.List(context.Background(), resourceType)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", resourceType, err)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(docs)
		}

		if len(docs) == 0 {
			fmt.Printf("No cached %s\n", resourceType)
			return nil
		}

		pending := color.New(color.FgYellow)
		deleting := color.New(color.FgRed)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPDATED\tSTATE")
		for _, doc := range docs {
			state := "synced"
			switch {
			case doc.IsDeleted():
				state = deleting.Sprint("deleting")
			case doc.IsOptimistic():
				state = pending.Sprint("pending")
			}
			updatedAt := ""
			if t := doc.UpdatedAt(); !t.IsZero() {
				updatedAt = t.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", doc.Key(), updatedAt, state)
		}
		w.Flush()
		fmt.Printf("\nTotal: %d\n", len(docs))
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
}
