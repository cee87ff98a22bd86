package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mediflow/offsync/synclite"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the push listener and the outbox runner",
	Long: `Connects to the server's WebSocket channel, applies pushed changes to
the local cache, and replays queued offline mutations in the background.
Prints every applied change until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		listener, err := synclite.NewListener(synclite.ListenerConfig{
			URL:     viper.GetString("ws_url"),
			Token:   app.api.Token,
			Handler: app.handler,
			Logger:  log,
		})
		if err != nil {
			return err
		}

		runner := synclite.NewRunner(app.outbox, synclite.APIReplay(app.api), app.health)
		runner.SetLogger(log)

		if err := listener.Start(ctx); err != nil {
			return err
		}
		defer listener.Stop()
		if err := runner.Start(ctx); err != nil {
			return err
		}
		defer runner.Stop()

		changes, cancel := app.broadcast.Subscribe(64)
		defer cancel()

		created := color.New(color.FgGreen)
		updated := color.New(color.FgCyan)
		deleted := color.New(color.FgRed)

		fmt.Println("Watching for changes (Ctrl+C to stop)...")
		for {
			select {
			case <-ctx.Done():
				return nil
			case c := <-changes:
				switch c.Op {
				case synclite.OpCreate:
					created.Printf("+ %s/%s\n", c.ResourceType, c.ID)
				case synclite.OpUpdate:
					updated.Printf("~ %s/%s\n", c.ResourceType, c.ID)
				case synclite.OpDelete:
					deleted.Printf("- %s/%s\n", c.ResourceType, c.ID)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
