package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/vectorstore"
	"github.com/Alias1177/Correlator/models"
)

// Analysis types
const (
	TypeMarket         = "market_analysis"
	TypeCorrelation    = "correlation_explanation"
	TypeRecommendation = "recommendation_explanation"
	TypeAnomaly        = "anomaly_analysis"
	TypeRegime         = "regime_analysis"
	TypeChat           = "chat"
	TypeInsights       = "insights"
)

const (
	historyLimit        = 100
	conversationLimit   = 10
	defaultLookbackDays = 30
)

// Store supplies market data for prompts
type Store interface {
	MarketData(ctx context.Context, f database.MarketDataFilter) ([]models.MarketData, error)
}

// Analysis is one LLM answer
type Analysis struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Symbols   []string  `json:"symbols,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	PatternID string    `json:"pattern_id,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// Exchange is one chat turn
type Exchange struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Config tunes the analyst
type Config struct {
	LookbackDays int
}

// Analyst answers market questions through a provider and remembers its answers
type Analyst struct {
	provider Provider
	store    Store
	vectors  *vectorstore.Store
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger

	mu            sync.Mutex
	history       []Analysis
	conversations map[string][]Exchange
}

// New creates an analyst. provider may be nil, in which case every LLM call
// returns ErrUnavailable; vectors may be nil to skip storing analyses.
func New(provider Provider, store Store, vectors *vectorstore.Store, cfg Config) *Analyst {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = defaultLookbackDays
	}
	return &Analyst{
		provider:      provider,
		store:         store,
		vectors:       vectors,
		cfg:           cfg,
		now:           time.Now,
		logger:        log.With().Str("component", "insight").Logger(),
		conversations: map[string][]Exchange{},
	}
}

// Available reports whether a provider is configured
func (a *Analyst) Available() bool { return a.provider != nil }

func (a *Analyst) ask(ctx context.Context, kind string, symbols []string, prompt string) (*Analysis, error) {
	if a.provider == nil {
		return nil, ErrUnavailable
	}
	start := a.now()
	content, err := a.provider.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	an := &Analysis{
		ID:        uuid.NewString(),
		Type:      kind,
		Content:   strings.TrimSpace(content),
		Symbols:   symbols,
		Provider:  a.provider.Name(),
		Model:     a.provider.Model(),
		CreatedAt: a.now().UTC(),
	}
	an.PatternID = a.remember(ctx, an)

	a.mu.Lock()
	a.history = append(a.history, *an)
	if len(a.history) > historyLimit {
		a.history = a.history[len(a.history)-historyLimit:]
	}
	a.mu.Unlock()
	a.logger.Info().Str("type", kind).Strs("symbols", symbols).Dur("took", a.now().Sub(start)).Msg("Analysis generated")
	return an, nil
}

// remember embeds an analysis into the vector store; failures only log
func (a *Analyst) remember(ctx context.Context, an *Analysis) string {
	if a.vectors == nil || an.Content == "" {
		return ""
	}
	vec, err := a.provider.Embed(ctx, an.Content)
	if err != nil {
		a.logger.Warn().Err(err).Str("type", an.Type).Msg("Failed to embed analysis")
		return ""
	}
	subject := "MARKET"
	if len(an.Symbols) > 0 {
		subject = strings.Join(an.Symbols, ",")
	}
	id, err := a.vectors.Add(vectorstore.Pattern{
		Symbol:   subject,
		Type:     vectorstore.AnalysisPattern,
		Vector:   vec,
		Text:     an.Content,
		Metadata: map[string]any{"analysis_type": an.Type, "analysis_id": an.ID},
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to store analysis vector")
		return ""
	}
	return id
}

// Recent returns up to n of the latest analyses, newest last
func (a *Analyst) Recent(n int) []Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.history) {
		n = len(a.history)
	}
	return append([]Analysis(nil), a.history[len(a.history)-n:]...)
}

// MarketAnalysis comments on recent price action of the symbols
func (a *Analyst) MarketAnalysis(ctx context.Context, symbols []string, focus string) (*Analysis, error) {
	if a.provider == nil {
		return nil, ErrUnavailable
	}
	summary, err := a.marketSummary(ctx, symbols)
	if err != nil {
		return nil, err
	}
	return a.ask(ctx, TypeMarket, summary.Symbols(), marketPrompt(summary, focus))
}

// ExplainCorrelations explains a correlation matrix in plain language
func (a *Analyst) ExplainCorrelations(ctx context.Context, matrix map[string]map[string]float64) (*Analysis, error) {
	if len(matrix) < 2 {
		return nil, fmt.Errorf("correlation matrix needs at least two symbols")
	}
	symbols := make([]string, 0, len(matrix))
	for s := range matrix {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return a.ask(ctx, TypeCorrelation, symbols, correlationPrompt(symbols, matrix))
}

// ExplainRecommendations explains portfolio recommendations for a risk profile
func (a *Analyst) ExplainRecommendations(ctx context.Context, recommendations any, profile string) (*Analysis, error) {
	if profile == "" {
		profile = "moderate"
	}
	body, err := json.MarshalIndent(recommendations, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding recommendations: %w", err)
	}
	return a.ask(ctx, TypeRecommendation, nil, recommendationPrompt(string(body), profile))
}

// AnalyzeAnomaly interprets a detected anomaly
func (a *Analyst) AnalyzeAnomaly(ctx context.Context, d models.AnomalyDetection) (*Analysis, error) {
	var symbols []string
	if d.Symbol != "" {
		symbols = []string{d.Symbol}
	}
	return a.ask(ctx, TypeAnomaly, symbols, anomalyPrompt(d))
}

// RegimeChange describes a transition between market regimes
type RegimeChange struct {
	Universe    string             `json:"universe"`
	From        string             `json:"previous_regime"`
	To          string             `json:"current_regime"`
	Probability float64            `json:"change_probability"`
	Regimes     map[string]float64 `json:"regime_probabilities,omitempty"`
}

// AnalyzeRegime comments on a regime change
func (a *Analyst) AnalyzeRegime(ctx context.Context, rc RegimeChange) (*Analysis, error) {
	return a.ask(ctx, TypeRegime, nil, regimePrompt(rc))
}

// Chat answers a free-form question, keeping the last exchanges per user as context
func (a *Analyst) Chat(ctx context.Context, user, query string, withContext bool) (*Analysis, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty chat query")
	}
	if user == "" {
		user = "default"
	}
	var history []Exchange
	var recent []Analysis
	if withContext {
		a.mu.Lock()
		history = append(history, a.conversations[user]...)
		a.mu.Unlock()
		recent = a.Recent(5)
	}
	an, err := a.ask(ctx, TypeChat, nil, chatPrompt(query, history, recent))
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	conv := append(a.conversations[user], Exchange{Query: query, Response: an.Content, Timestamp: an.CreatedAt})
	if len(conv) > conversationLimit {
		conv = conv[len(conv)-conversationLimit:]
	}
	a.conversations[user] = conv
	a.mu.Unlock()
	return an, nil
}

// Conversation returns a user's stored exchanges
func (a *Analyst) Conversation(user string) []Exchange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Exchange(nil), a.conversations[user]...)
}

// Insights is the output of GenerateInsights
type Insights struct {
	Trigger   string     `json:"trigger_type"`
	Insights  []Analysis `json:"insights"`
	Count     int        `json:"count"`
	Timestamp time.Time  `json:"timestamp"`
}

// GenerateInsights produces commentary for a trigger such as a correlation
// change, regime change, anomaly or portfolio alert
func (a *Analyst) GenerateInsights(ctx context.Context, trigger string, data map[string]any) (*Insights, error) {
	if trigger == "" {
		trigger = "general"
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding trigger data: %w", err)
	}
	an, err := a.ask(ctx, TypeInsights, nil, insightPrompt(trigger, string(body)))
	if err != nil {
		return nil, err
	}
	return &Insights{Trigger: trigger, Insights: []Analysis{*an}, Count: 1, Timestamp: an.CreatedAt}, nil
}

// SearchRequest finds stored patterns by text or by a symbol's recent prices
type SearchRequest struct {
	Query   string   `json:"query"`
	Symbol  string   `json:"symbol"`
	Type    string   `json:"pattern_type"`
	Symbols []string `json:"symbols"`
	K       int      `json:"k" validate:"omitempty,min=1,max=50"`
}

// Search runs a similarity search. A text query is embedded by the provider;
// a symbol query uses the price-pattern embedding of its recent closes.
func (a *Analyst) Search(ctx context.Context, req SearchRequest) ([]vectorstore.Match, error) {
	if a.vectors == nil {
		return nil, ErrUnavailable
	}
	q := vectorstore.Query{K: req.K, Type: req.Type, Symbols: req.Symbols}
	switch {
	case req.Query != "":
		if a.provider == nil {
			return nil, ErrUnavailable
		}
		vec, err := a.provider.Embed(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		q.Vector = vec
	case req.Symbol != "":
		summary, err := a.marketSummary(ctx, []string{req.Symbol})
		if err != nil {
			return nil, err
		}
		q.Vector = vectorstore.PriceEmbedding(summary.closes[req.Symbol])
		if q.Type == "" {
			q.Type = vectorstore.PricePattern
		}
	default:
		return nil, fmt.Errorf("search needs a query or a symbol")
	}
	return a.vectors.Search(q)
}

// StorePattern embeds a symbol's recent prices as a price pattern
func (a *Analyst) StorePattern(ctx context.Context, symbol string, metadata map[string]any) (string, error) {
	if a.vectors == nil {
		return "", ErrUnavailable
	}
	summary, err := a.marketSummary(ctx, []string{symbol})
	if err != nil {
		return "", err
	}
	return a.vectors.Add(vectorstore.Pattern{
		Symbol:   symbol,
		Type:     vectorstore.PricePattern,
		Vector:   vectorstore.PriceEmbedding(summary.closes[symbol]),
		Metadata: metadata,
	})
}

// Models lists the provider's models
func (a *Analyst) Models(ctx context.Context) ([]string, error) {
	if a.provider == nil {
		return nil, ErrUnavailable
	}
	return a.provider.Models(ctx)
}

// Status describes the analyst
type Status struct {
	Available     bool              `json:"available"`
	Provider      string            `json:"provider,omitempty"`
	Model         string            `json:"model,omitempty"`
	Analyses      int               `json:"analyses"`
	Conversations int               `json:"conversations"`
	Vectors       vectorstore.Stats `json:"vector_store"`
}

// Status reports provider and memory state
func (a *Analyst) Status() Status {
	a.mu.Lock()
	st := Status{Available: a.provider != nil, Analyses: len(a.history), Conversations: len(a.conversations)}
	a.mu.Unlock()
	if a.provider != nil {
		st.Provider, st.Model = a.provider.Name(), a.provider.Model()
	}
	if a.vectors != nil {
		st.Vectors = a.vectors.Stats()
	}
	return st
}

// SymbolSummary is the recent behaviour of one symbol
type SymbolSummary struct {
	Symbol       string  `json:"symbol"`
	Last         float64 `json:"last"`
	PeriodReturn float64 `json:"period_return"`
	Volatility   float64 `json:"annualized_volatility"`
	Observations int     `json:"observations"`
}

// MarketSummary is the data given to market prompts
type MarketSummary struct {
	Days    int             `json:"days"`
	Entries []SymbolSummary `json:"symbols"`
	closes  map[string][]float64
}

// Symbols lists the summarised symbols
func (m *MarketSummary) Symbols() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Symbol
	}
	return out
}

func (a *Analyst) marketSummary(ctx context.Context, symbols []string) (*MarketSummary, error) {
	end := a.now().UTC()
	rows, err := a.store.MarketData(ctx, database.MarketDataFilter{
		Symbols: symbols,
		Start:   end.AddDate(0, 0, -a.cfg.LookbackDays),
		End:     end,
	})
	if err != nil {
		return nil, fmt.Errorf("loading market data: %w", err)
	}
	closes := map[string][]float64{}
	for _, r := range rows {
		closes[r.Symbol] = append(closes[r.Symbol], r.Close)
	}
	if len(closes) == 0 {
		return nil, fmt.Errorf("no market data for %v in the last %d days", symbols, a.cfg.LookbackDays)
	}

	sum := &MarketSummary{Days: a.cfg.LookbackDays, closes: closes}
	for sym, c := range closes {
		e := SymbolSummary{Symbol: sym, Last: c[len(c)-1], Observations: len(c)}
		if c[0] != 0 {
			e.PeriodReturn = c[len(c)-1]/c[0] - 1
		}
		var rets []float64
		for i := 1; i < len(c); i++ {
			if c[i-1] != 0 {
				rets = append(rets, c[i]/c[i-1]-1)
			}
		}
		if len(rets) > 1 {
			e.Volatility = stat.StdDev(rets, nil) * math.Sqrt(252)
		}
		sum.Entries = append(sum.Entries, e)
	}
	sort.Slice(sum.Entries, func(i, j int) bool { return sum.Entries[i].Symbol < sum.Entries[j].Symbol })
	return sum, nil
}
