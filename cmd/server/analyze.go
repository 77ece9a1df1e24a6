package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/config"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run the weekly usage analysis once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), weeklyJobTimeout)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			res, err := a.insightService().RunWeekly(ctx, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.NoData {
				fmt.Fprintln(out, "No data to analyze this week")
				return nil
			}
			logger.Info("weekly analysis stored", zap.String("insight_id", res.Insight.ID))
			fmt.Fprintf(out, "week of %s: %d chat messages, %d evaluations\n",
				res.WeekStart.Format("2006-01-02"), res.ChatMessages, res.Evaluations)
			return nil
		},
	}
}
