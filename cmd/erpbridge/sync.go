package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/erpbridge/internal/config"
	"github.com/hyperengineering/erpbridge/internal/erp"
	"github.com/hyperengineering/erpbridge/internal/store"
	syncengine "github.com/hyperengineering/erpbridge/internal/sync"
)

var (
	syncJSONOutput    bool
	inboundBatchSize  int
	inboundMaxRecords int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run sync passes without the server",
	Long:  "Run a single outbound or inbound sync pass against the configured ERP endpoint and exit.",
}

func init() {
	syncCmd.PersistentFlags().BoolVar(&syncJSONOutput, "json", false,
		"Output in JSON format")

	syncInboundCmd.Flags().IntVar(&inboundBatchSize, "batch-size", 0,
		"Page size for the inbound pull (defaults to sync.inbound_batch_size)")
	syncInboundCmd.Flags().IntVar(&inboundMaxRecords, "max-records", 0,
		"Most records a single pass pulls (defaults to sync.inbound_max_records)")

	syncCmd.AddCommand(syncOutboundCmd)
	syncCmd.AddCommand(syncInboundCmd)
	rootCmd.AddCommand(syncCmd)
}

// syncEnv bundles the pieces a one-shot sync pass needs.
type syncEnv struct {
	cfg    *config.Config
	db     *store.SQLiteStore
	engine *syncengine.Engine
}

func (e *syncEnv) Close() error {
	return e.db.Close()
}

// resolveSyncEnv loads configuration and opens the store and ERP client
// without starting the server. The engine is the same entry point the
// server's interval worker drives.
func resolveSyncEnv() (*syncEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := erp.New(cfg.ERP.BaseURL, cfg.ERP.SID, time.Duration(cfg.ERP.RequestTimeout))
	return &syncEnv{
		cfg:    cfg,
		db:     db,
		engine: syncengine.NewEngine(db, client),
	}, nil
}

var syncOutboundCmd = &cobra.Command{
	Use:   "outbound",
	Short: "Push pending local issues to the ERP endpoint",
	Args:  cobra.NoArgs,
	RunE:  runSyncOutbound,
}

func runSyncOutbound(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := resolveSyncEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	synced, err := env.engine.RunOutboundPass(ctx)
	if err != nil {
		return fmt.Errorf("outbound pass: %w", err)
	}

	if syncJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"synced": synced})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d issue(s).\n", synced)
	return nil
}

var syncInboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Pull remote issues into the local store",
	Args:  cobra.NoArgs,
	RunE:  runSyncInbound,
}

func runSyncInbound(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := resolveSyncEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	batchSize := inboundBatchSize
	if batchSize <= 0 {
		batchSize = env.cfg.Sync.InboundBatchSize
	}
	maxRecords := inboundMaxRecords
	if maxRecords <= 0 {
		maxRecords = env.cfg.Sync.InboundMaxRecords
	}

	result, err := env.engine.RunInboundPass(ctx, batchSize, maxRecords)
	if err != nil {
		return fmt.Errorf("inbound pass: %w", err)
	}

	if syncJSONOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d, updated %d.\n",
		result.InsertedTotal, result.UpdatedTotal)

	if len(result.FailedBatches) > 0 {
		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "START\tSTATUS\tERROR")
		for _, fb := range result.FailedBatches {
			status := "-"
			if fb.Status != 0 {
				status = strconv.Itoa(fb.Status)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", fb.Start, status, fb.Error)
		}
		w.Flush()
	}
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
