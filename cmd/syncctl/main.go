// syncctl is a small operator client for the sync API: it keeps a durable
// SQLite outbox, pushes queued mutations, and pulls changes down.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/moorlabs/driftsync/internal/logging"
	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/outbox"
	"github.com/moorlabs/driftsync/internal/reconciler"
	"github.com/spf13/cobra"
)

var (
	dbPath    string
	serverURL string
	projectID string
	token     string
	deviceID  string
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Offline-first sync client for driftsync",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "syncctl.db", "path to the local outbox database")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "sync server base URL")
	rootCmd.PersistentFlags().StringVar(&projectID, "project", "", "project (tenant) id")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "device id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(enqueueCmd(), syncCmd(), statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*outbox.SQLiteStore, error) {
	return outbox.NewSQLiteStore(dbPath)
}

func enqueueCmd() *cobra.Command {
	var entityType, entityID, op, data string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Record a local mutation in the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var payload map[string]interface{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("invalid --data JSON: %w", err)
				}
			}

			queue := outbox.NewQueue(store, nil)
			event, err := queue.Enqueue(cmd.Context(), entityType, entityID, models.ChangeOp(op), payload)
			if err != nil {
				return err
			}

			fmt.Printf("queued %s %s/%s as %s\n", event.Op, event.EntityType, event.EntityID, event.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "", "entity type")
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&op, "op", string(models.OpUpsert), "operation: upsert or delete")
	cmd.Flags().StringVar(&data, "data", "", "JSON payload")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("entity")

	return cmd
}

func syncCmd() *cobra.Command {
	var scopes string
	var reset bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" || token == "" || deviceID == "" {
				return fmt.Errorf("--project, --token and --device are required")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger := logging.New(logLevel)
			projection := reconciler.NewProjection()
			queue := outbox.NewQueue(store, projection)
			transport := reconciler.NewHTTPTransport(serverURL, projectID, token)
			rec := reconciler.New(deviceID, queue, store, transport, projection,
				strings.Split(scopes, ","), logger)

			var result *reconciler.Result
			if reset {
				result, err = rec.Reset(cmd.Context())
			} else {
				result, err = rec.Sync(cmd.Context())
			}
			if err != nil {
				return err
			}

			fmt.Printf("pushed=%d accepted=%d rejected=%d replayed=%v pulled=%d watermark=%d\n",
				result.Pushed, result.Accepted, result.Rejected, result.Replayed, result.Pulled, result.Watermark)
			return nil
		},
	}

	cmd.Flags().StringVar(&scopes, "scopes", "content,profile,progress", "comma-separated scopes to pull")
	cmd.Flags().BoolVar(&reset, "reset", false, "re-pull everything from cursor zero")

	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending outbox events and cached cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pending, err := store.Pending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("pending events: %d\n", len(pending))
			for _, event := range pending {
				line := fmt.Sprintf("  %s  %s %s/%s  %s", event.ID, event.Op, event.EntityType, event.EntityID, event.SyncStatus)
				if event.LastError != "" {
					line += "  err=" + event.LastError
				}
				fmt.Println(line)
			}

			cursors, err := store.GetCursors(cmd.Context())
			if err != nil {
				return err
			}
			for scope, cursor := range cursors {
				fmt.Printf("cursor %s=%d\n", scope, cursor)
			}
			return nil
		},
	}
}
