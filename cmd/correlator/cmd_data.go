package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/portfolio"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one data collection",
	Long: `Collect fetches the lookback window from every configured source, cleans
and scores it, and loads it into the database.`,
	RunE: runCollect,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <type>",
	Short: "Run one analysis and print the result as JSON",
	Long: `Analyze runs one analysis over stored data. Types: correlation, volatility,
causality, regime, network, prediction, anomaly, comprehensive.

Examples:
  correlator analyze correlation --symbols AAPL,MSFT,BITCOIN --method spearman
  correlator analyze regime --regimes 4`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{analysis.TypeCorrelation, analysis.TypeVolatility, analysis.TypeCausality, analysis.TypeRegime, analysis.TypeNetwork, analysis.TypePrediction, analysis.TypeAnomaly, analysis.TypeComprehensive},
	RunE:      runAnalyze,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Generate a portfolio recommendation",
	RunE:  runRecommend,
}

var (
	analyzeSymbols string
	analyzeMethod  string
	analyzeRegimes int
	analyzeLags    int

	recommendStrategy string
	recommendSymbols  string
)

func init() {
	rootCmd.AddCommand(collectCmd, analyzeCmd, recommendCmd)

	analyzeCmd.Flags().StringVar(&analyzeSymbols, "symbols", "", "Comma separated symbols (default: configured universe)")
	analyzeCmd.Flags().StringVar(&analyzeMethod, "method", "", "Correlation method: pearson, spearman or kendall")
	analyzeCmd.Flags().IntVar(&analyzeRegimes, "regimes", 0, "Number of regimes")
	analyzeCmd.Flags().IntVar(&analyzeLags, "lags", 0, "Maximum VAR lag order")

	recommendCmd.Flags().StringVar(&recommendStrategy, "strategy", portfolio.Balanced, "conservative, balanced, aggressive or diversified")
	recommendCmd.Flags().StringVar(&recommendSymbols, "symbols", "", "Comma separated universe (default: built-in universe)")
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func runCollect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.pipeline.Run(cmd.Context())
	if err != nil {
		return err
	}
	log.Info().
		Str("status", run.Status).
		Int("collected", run.RecordsCollected).
		Int("loaded", run.RecordsLoaded).
		Float64("quality", run.QualityScore).
		Msg("Collection finished")
	return printJSON(cmd, run)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	req := analysis.Request{
		Symbols: splitList(analyzeSymbols),
		Method:  analyzeMethod,
		Regimes: analyzeRegimes,
		Lags:    analyzeLags,
	}
	var res any
	switch args[0] {
	case analysis.TypeCorrelation:
		res, err = a.analyzer.Correlation(ctx, req)
	case analysis.TypeVolatility:
		res, err = a.analyzer.Volatility(ctx, req)
	case analysis.TypeCausality:
		res, err = a.analyzer.Causality(ctx, req)
	case analysis.TypeRegime:
		res, err = a.analyzer.Regime(ctx, req)
	case analysis.TypeNetwork:
		res, err = a.analyzer.Network(ctx, req)
	case analysis.TypePrediction:
		res, err = a.analyzer.Prediction(ctx, req)
	case analysis.TypeAnomaly:
		res, err = a.analyzer.Anomalies(ctx, req)
	case analysis.TypeComprehensive:
		res, err = a.analyzer.Comprehensive(ctx, req)
	default:
		return fmt.Errorf("unknown analysis type %q", args[0])
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func runRecommend(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.portfolio.Generate(cmd.Context(), portfolio.Request{
		Strategy: recommendStrategy,
		Universe: splitList(recommendSymbols),
	})
	if err != nil {
		return err
	}
	log.Info().Str("strategy", rec.Strategy).Msg(rec.Summary)
	return printJSON(cmd, rec)
}
