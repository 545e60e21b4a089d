package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Print the latest persisted positions and P&L",
	Long: `Reads the configured storage backend and prints the most recent
position snapshot per market along with the aggregate P&L. Useful for
inspecting a paper session without the HTTP API.`,
	RunE: showPositions,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(positionsCmd)
}

func showPositions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger("error")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	var st store.Store
	switch cfg.StorageMode {
	case config.StoragePostgres:
		st, err = store.NewPostgresStore(&store.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
	default:
		st, err = store.NewSQLiteStore(&store.SQLiteConfig{
			Path:   cfg.SQLitePath,
			Logger: logger,
		})
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	ctx := context.Background()
	snaps, err := st.LatestPositions(ctx, 500)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	if len(snaps) == 0 {
		fmt.Println("no position snapshots recorded")
		return nil
	}

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.Header("Market", "Event", "Qty", "Avg", "Mark", "Unrealized", "Realized")
	for _, s := range snaps {
		tbl.Append(
			s.MarketID,
			s.EventID,
			fmt.Sprintf("%.2f", s.Position),
			fmt.Sprintf("%.4f", s.AvgPrice),
			fmt.Sprintf("%.4f", s.MarkPrice),
			fmt.Sprintf("%+.4f", s.UnrealizedPnL),
			fmt.Sprintf("%+.4f", s.RealizedPnL),
		)
	}
	tbl.Render()

	pnl, err := st.LatestPnL(ctx)
	if err != nil {
		return fmt.Errorf("load pnl: %w", err)
	}
	if pnl != nil {
		fmt.Printf("\n  Unrealized: %+.4f   Realized: %+.4f   Total: %+.4f\n",
			pnl.TotalUnrealized, pnl.TotalRealized, pnl.TotalPnL)
	}
	return nil
}
