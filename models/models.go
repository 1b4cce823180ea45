package models

import (
	"time"
)

// AssetClass groups symbols by the kind of instrument they represent
type AssetClass string

const (
	AssetClassEquity            AssetClass = "equity"
	AssetClassCryptocurrency    AssetClass = "cryptocurrency"
	AssetClassEconomicIndicator AssetClass = "economic_indicator"
)

// Data source identifiers stored alongside every record
const (
	SourceYahooFinance = "yahoo_finance"
	SourceFRED         = "fred"
	SourceCoinGecko    = "coingecko"
)

// MarketData is one daily observation of a symbol from one source
type MarketData struct {
	ID            int64      `json:"id,omitempty" db:"id"`
	Symbol        string     `json:"symbol" db:"symbol"`
	AssetClass    AssetClass `json:"asset_class" db:"asset_class"`
	Date          time.Time  `json:"date" db:"date"`
	Open          float64    `json:"open" db:"open"`
	High          float64    `json:"high" db:"high"`
	Low           float64    `json:"low" db:"low"`
	Close         float64    `json:"close" db:"close"`
	AdjustedClose float64    `json:"adjusted_close" db:"adjusted_close"`
	Volume        float64    `json:"volume" db:"volume"`
	MarketCap     float64    `json:"market_cap,omitempty" db:"market_cap"`
	Source        string     `json:"source" db:"source"`
	QualityScore  float64    `json:"quality_score" db:"quality_score"`
	CollectedAt   time.Time  `json:"collected_at" db:"collected_at"`
}

// HasOHLC reports whether the open/high/low fields carry real prices
func (m MarketData) HasOHLC() bool {
	return m.Open > 0 && m.High > 0 && m.Low > 0
}

// ValidOHLC checks the high/low envelope around open and close
func (m MarketData) ValidOHLC() bool {
	if !m.HasOHLC() {
		return true
	}
	return m.High >= m.Low &&
		m.High >= m.Open && m.High >= m.Close &&
		m.Low <= m.Open && m.Low <= m.Close
}

// CorrelationRecord stores one pairwise coefficient
type CorrelationRecord struct {
	ID              int64     `json:"id,omitempty" db:"id"`
	Symbol1         string    `json:"symbol1" db:"symbol1"`
	Symbol2         string    `json:"symbol2" db:"symbol2"`
	Method          string    `json:"method" db:"method"`
	Value           float64   `json:"value" db:"value"`
	PValue          float64   `json:"p_value" db:"p_value"`
	ConfidenceLow   float64   `json:"confidence_low" db:"confidence_low"`
	ConfidenceHigh  float64   `json:"confidence_high" db:"confidence_high"`
	SampleSize      int       `json:"sample_size" db:"sample_size"`
	WindowSize      int       `json:"window_size" db:"window_size"`
	StartDate       time.Time `json:"start_date" db:"start_date"`
	EndDate         time.Time `json:"end_date" db:"end_date"`
	CalculationDate time.Time `json:"calculation_date" db:"calculation_date"`
}

// RegimeRecord is a detected market regime for a date
type RegimeRecord struct {
	ID          int64     `json:"id,omitempty" db:"id"`
	Date        time.Time `json:"date" db:"date"`
	Regime      string    `json:"regime" db:"regime"`
	Probability float64   `json:"probability" db:"probability"`
	Method      string    `json:"method" db:"method"`
	Universe    string    `json:"universe" db:"universe"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ModelResult stores a fitted model summary as JSON
type ModelResult struct {
	ID        int64     `json:"id,omitempty" db:"id"`
	ModelType string    `json:"model_type" db:"model_type"`
	Symbols   string    `json:"symbols" db:"symbols"`
	Params    string    `json:"params" db:"params"`
	Metrics   string    `json:"metrics" db:"metrics"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// QualityReport summarises the data quality of one ETL batch
type QualityReport struct {
	ID                int64     `json:"id,omitempty" db:"id"`
	RunID             string    `json:"run_id" db:"run_id"`
	Completeness      float64   `json:"completeness" db:"completeness"`
	Accuracy          float64   `json:"accuracy" db:"accuracy"`
	Timeliness        float64   `json:"timeliness" db:"timeliness"`
	Consistency       float64   `json:"consistency" db:"consistency"`
	Overall           float64   `json:"overall" db:"overall"`
	TotalRecords      int       `json:"total_records" db:"total_records"`
	MissingValues     int       `json:"missing_values" db:"missing_values"`
	OutliersDetected  int       `json:"outliers_detected" db:"outliers_detected"`
	ValidationErrors  []string  `json:"validation_errors" db:"-"`
	ValidationSummary string    `json:"-" db:"validation_errors"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// ETL run statuses
const (
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// ETLRun is the log entry of one pipeline execution
type ETLRun struct {
	ID               string         `json:"id" db:"id"`
	StartedAt        time.Time      `json:"started_at" db:"started_at"`
	FinishedAt       time.Time      `json:"finished_at" db:"finished_at"`
	Status           string         `json:"status" db:"status"`
	RecordsCollected int            `json:"records_collected" db:"records_collected"`
	RecordsLoaded    int            `json:"records_loaded" db:"records_loaded"`
	QualityScore     float64        `json:"quality_score" db:"quality_score"`
	Errors           []string       `json:"errors,omitempty" db:"-"`
	ErrorSummary     string         `json:"-" db:"errors"`
	Quality          *QualityReport `json:"quality,omitempty" db:"-"`
}

// Alert severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Alert types
const (
	AlertHighCorrelation = "high_correlation"
	AlertHighVolatility  = "high_volatility"
	AlertRegimeChange    = "regime_change"
	AlertAnomaly         = "anomaly"
)

// Alert is raised by analysis when a monitored value crosses its threshold
type Alert struct {
	ID        string    `json:"id" db:"id"`
	Type      string    `json:"type" db:"type"`
	Severity  string    `json:"severity" db:"severity"`
	Subject   string    `json:"subject" db:"subject"`
	Message   string    `json:"message" db:"message"`
	Value     float64   `json:"value" db:"value"`
	Threshold float64   `json:"threshold" db:"threshold"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Report is a generated document saved to disk
type Report struct {
	ID        string    `json:"id" db:"id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Path      string    `json:"path" db:"path"`
	Symbols   string    `json:"symbols" db:"symbols"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Subscription is the billing state of an API consumer
type Subscription struct {
	Email            string    `json:"email" db:"email"`
	CustomerID       string    `json:"customer_id" db:"customer_id"`
	SubscriptionID   string    `json:"subscription_id" db:"subscription_id"`
	Tier             string    `json:"tier" db:"tier"`
	Active           bool      `json:"active" db:"active"`
	CurrentPeriodEnd time.Time `json:"current_period_end" db:"current_period_end"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the subscription grants its tier at t
func (s Subscription) IsActive(t time.Time) bool {
	return s.Active && (s.CurrentPeriodEnd.IsZero() || s.CurrentPeriodEnd.After(t))
}

// TechnicalIndicators holds the indicators computed for the latest row of a symbol
type TechnicalIndicators struct {
	Symbol     string    `json:"symbol"`
	Date       time.Time `json:"date"`
	SMA20      float64   `json:"sma_20"`
	SMA50      float64   `json:"sma_50"`
	EMA12      float64   `json:"ema_12"`
	EMA26      float64   `json:"ema_26"`
	MACD       float64   `json:"macd"`
	MACDSignal float64   `json:"macd_signal"`
	RSI        float64   `json:"rsi"`
	BBUpper    float64   `json:"bb_upper"`
	BBMiddle   float64   `json:"bb_middle"`
	BBLower    float64   `json:"bb_lower"`
	Volatility float64   `json:"volatility"`
	OBV        float64   `json:"obv"`
}

// AnomalyDetection contains information about market anomalies
type AnomalyDetection struct {
	Symbol           string    `json:"symbol"`
	Date             time.Time `json:"date"`
	IsAnomaly        bool      `json:"is_anomaly"`
	AnomalyType      string    `json:"anomaly_type,omitempty"` // PRICE_SPIKE, VOLUME_SPIKE, GAP, VOLATILITY_BREAKOUT
	AnomalyScore     float64   `json:"anomaly_score"`          // 0-1 score
	Details          string    `json:"details,omitempty"`
	RecommendedFlags []string  `json:"recommended_flags,omitempty"`
}
