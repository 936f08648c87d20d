package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chessworks/novelty-grinder/internal/config"
)

const version = "0.9.0"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "novelty-grinder",
	Short: "Find novelties and rare moves in chess games",
	Long: "Searches chess games for surprising moves: engine-approved moves that are\n" +
		"rare or absent in the Lichess masters database. Annotated PGN goes to stdout.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
