package insight

import (
	"fmt"
	"strings"

	"github.com/Alias1177/Correlator/models"
)

const systemPrompt = `You are a quantitative market analyst. Answer concisely in plain English,
ground every statement in the numbers provided and say when the data is insufficient.
Do not give personalised financial advice.`

func marketPrompt(s *MarketSummary, focus string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Market data for the last %d days:\n", s.Days)
	for _, e := range s.Entries {
		fmt.Fprintf(&sb, "- %s: last %.4f, return %+.2f%%, annualized volatility %.2f%% (%d observations)\n",
			e.Symbol, e.Last, e.PeriodReturn*100, e.Volatility*100, e.Observations)
	}
	if focus == "" {
		focus = "overall trend, relative strength and risk"
	}
	fmt.Fprintf(&sb, "\nWrite a short market analysis focusing on %s.\n", focus)
	sb.WriteString("Finish with one line: Outlook: bullish/bearish/neutral.")
	return sb.String()
}

func correlationPrompt(symbols []string, m map[string]map[string]float64) string {
	var sb strings.Builder
	sb.WriteString("Pairwise return correlations:\n")
	for i, a := range symbols {
		for _, b := range symbols[i+1:] {
			if v, ok := m[a][b]; ok {
				fmt.Fprintf(&sb, "- %s / %s: %.3f\n", a, b, v)
			}
		}
	}
	sb.WriteString("\nExplain which assets move together, which diversify each other, and what that means for portfolio risk.")
	return sb.String()
}

func recommendationPrompt(body, profile string) string {
	return fmt.Sprintf(`Portfolio recommendations (JSON):
%s

Explain these recommendations to an investor with a %s risk profile:
why the buy and sell signals were produced, how the allocation balances risk,
and the main risks to watch.`, body, profile)
}

func anomalyPrompt(d models.AnomalyDetection) string {
	return fmt.Sprintf(`Anomaly detected:
- symbol: %s
- date: %s
- type: %s
- score: %.2f
- details: %s

Explain the likely causes, whether it signals systemic risk, and what to monitor next.`,
		d.Symbol, d.Date.Format("2006-01-02"), d.AnomalyType, d.AnomalyScore, d.Details)
}

func regimePrompt(rc RegimeChange) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Market regime change in universe %q: %s -> %s (change probability %.2f).\n",
		rc.Universe, orUnknown(rc.From), orUnknown(rc.To), rc.Probability)
	if len(rc.Regimes) > 0 {
		sb.WriteString("Regime frequencies:\n")
		for _, label := range []string{"bull", "bear", "sideways"} {
			if p, ok := rc.Regimes[label]; ok {
				fmt.Fprintf(&sb, "- %s: %.2f\n", label, p)
			}
		}
	}
	sb.WriteString("\nDescribe what this transition typically means for asset returns, volatility and correlations.")
	return sb.String()
}

func chatPrompt(query string, history []Exchange, recent []Analysis) string {
	var sb strings.Builder
	if len(recent) > 0 {
		sb.WriteString("Recent analyses:\n")
		for _, an := range recent {
			fmt.Fprintf(&sb, "- [%s] %s\n", an.Type, truncate(an.Content, 200))
		}
		sb.WriteString("\n")
	}
	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, ex := range history {
			fmt.Fprintf(&sb, "User: %s\nAnalyst: %s\n", ex.Query, truncate(ex.Response, 400))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "User: %s\nAnalyst:", query)
	return sb.String()
}

func insightPrompt(trigger, body string) string {
	return fmt.Sprintf(`Trigger: %s
Data (JSON):
%s

List up to three actionable insights for a portfolio manager, most important first.`, trigger, body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
