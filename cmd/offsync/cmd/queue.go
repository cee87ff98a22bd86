package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mediflow/offsync/synclite"
)

var queueFlush bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline mutation queue",
	Long: `Shows the outbox entries awaiting server confirmation, with their
retry counters and next scheduled attempt. --flush replays one batch now.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if queueFlush {
			processed, err := app.outbox.ProcessQueue(ctx, synclite.APIReplay(app.api))
			if err != nil {
				return fmt.Errorf("failed to flush queue: %w", err)
			}
			fmt.Printf("Confirmed %d entr(ies)\n", processed)
		}

		entries, err := app.outbox.Pending(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue: %w", err)
		}
		if len(entries) == 0 {
			color.Green("Queue is empty")
			return nil
		}

		retrying := color.New(color.FgYellow)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tOP\tTYPE\tTARGET\tRETRIES\tNEXT ATTEMPT")
		for _, e := range entries {
			target := e.TargetID
			if target == "" {
				target = e.TempID
			}
			next := "now"
			if !e.NextAttemptAt.IsZero() {
				next = e.NextAttemptAt.Local().Format("15:04:05")
			}
			retries := fmt.Sprintf("%d", e.RetryCount)
			if e.RetryCount > 0 {
				retries = retrying.Sprint(retries)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Seq, e.Op, e.ResourceType, target, retries, next)
		}
		w.Flush()
		fmt.Printf("\nPending: %d\n", len(entries))
		return nil
	},
}

func init() {
	queueCmd.Flags().BoolVar(&queueFlush, "flush", false, "replay one batch before listing")
	rootCmd.AddCommand(queueCmd)
}
