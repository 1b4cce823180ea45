package portfolio

import (
	"math"
	"sort"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultRebalanceThreshold is the total drift that triggers rebalancing
const DefaultRebalanceThreshold = 0.05

// transactionCostRate is the assumed cost per trade as a fraction of value
const transactionCostRate = 0.001

// Rebalance actions
const (
	ActionBuy          = "buy"
	ActionSell         = "sell"
	ActionNewPosition  = "new_position"
	ActionExitPosition = "exit_position"
)

// RebalanceAction is one trade needed to move from current to target weights
type RebalanceAction struct {
	Symbol        string  `json:"symbol"`
	CurrentWeight float64 `json:"current_weight"`
	TargetWeight  float64 `json:"target_weight"`
	Drift         float64 `json:"drift"`
	Action        string  `json:"action"`
	Urgency       string  `json:"urgency"`
	TradeValue    string  `json:"trade_value,omitempty"`
}

// RebalanceCheck reports portfolio drift and the trades that would close it
type RebalanceCheck struct {
	NeedsRebalancing bool              `json:"needs_rebalancing"`
	TotalDrift       float64           `json:"total_drift"`
	Threshold        float64           `json:"threshold"`
	Urgency          string            `json:"urgency"`
	Actions          []RebalanceAction `json:"rebalancing_actions"`
	EstimatedCost    float64           `json:"estimated_transaction_cost"`
	Recommendation   string            `json:"recommendation"`
}

// CheckRebalance compares current against target weights. Only symbols whose
// drift exceeds the threshold produce an action. value is the portfolio's
// market value and may be zero, in which case no trade values are reported.
func CheckRebalance(current, target map[string]float64, threshold float64, value decimal.Decimal) RebalanceCheck {
	if threshold <= 0 {
		threshold = DefaultRebalanceThreshold
	}
	symbols := map[string]struct{}{}
	for s := range current {
		symbols[s] = struct{}{}
	}
	for s := range target {
		symbols[s] = struct{}{}
	}

	check := RebalanceCheck{Threshold: threshold, Actions: []RebalanceAction{}}
	for s := range symbols {
		cur, tgt := current[s], target[s]
		drift := tgt - cur
		check.TotalDrift += math.Abs(drift)
		if math.Abs(drift) <= threshold {
			continue
		}
		a := RebalanceAction{
			Symbol:        s,
			CurrentWeight: cur,
			TargetWeight:  tgt,
			Drift:         drift,
			Urgency:       RiskMedium,
		}
		switch {
		case cur == 0:
			a.Action = ActionNewPosition
		case tgt == 0:
			a.Action = ActionExitPosition
		case drift > 0:
			a.Action = ActionBuy
		default:
			a.Action = ActionSell
		}
		if math.Abs(drift) > 0.1 {
			a.Urgency = RiskHigh
		}
		if value.IsPositive() {
			a.TradeValue = tradeValue(value, math.Abs(drift))
		}
		check.Actions = append(check.Actions, a)
	}
	sort.Slice(check.Actions, func(i, j int) bool {
		di, dj := math.Abs(check.Actions[i].Drift), math.Abs(check.Actions[j].Drift)
		if di != dj {
			return di > dj
		}
		return check.Actions[i].Symbol < check.Actions[j].Symbol
	})

	switch {
	case check.TotalDrift > 0.2:
		check.Urgency = RiskHigh
	case check.TotalDrift > 0.1:
		check.Urgency = RiskMedium
	default:
		check.Urgency = RiskLow
	}
	check.NeedsRebalancing = check.TotalDrift > threshold
	check.EstimatedCost = transactionCostRate * float64(len(check.Actions))
	check.Recommendation = "monitor"
	if check.NeedsRebalancing {
		check.Recommendation = "rebalance_now"
	}
	return check
}

func tradeValue(value decimal.Decimal, fraction float64) string {
	cents := value.Mul(decimal.NewFromFloat(fraction)).Round(2).Shift(2).IntPart()
	return money.New(cents, money.USD).Display()
}
