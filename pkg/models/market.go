package models

import "time"

// OddsTick is one book's two-sided quote as received from an odds feed
type OddsTick struct {
	BookKey    string    `json:"book_key"`
	SportKey   string    `json:"sport_key"`
	EventID    string    `json:"event_id"`
	PlayerID   string    `json:"player_id"`
	MarketKey  string    `json:"market_key"`
	Line       float64   `json:"line"`
	OverPrice  int       `json:"over_price"`  // American odds
	UnderPrice int       `json:"under_price"` // American odds
	Timestamp  time.Time `json:"timestamp"`
}

// BookLine returns the per-book entry of a PropMarket for this tick
func (t OddsTick) BookLine() BookLine {
	return BookLine{
		Book:       t.BookKey,
		Line:       t.Line,
		OverPrice:  t.OverPrice,
		UnderPrice: t.UnderPrice,
		Timestamp:  t.Timestamp,
	}
}

// BookLine is a single book's quote inside a PropMarket
type BookLine struct {
	Book       string    `json:"book"`
	Line       float64   `json:"line"`
	OverPrice  int       `json:"over_price"`
	UnderPrice int       `json:"under_price"`
	Timestamp  time.Time `json:"timestamp"`
}

// BookWeight is static quality metadata driving consensus weighting
type BookWeight struct {
	Book      string  `json:"book"`
	Weight    float64 `json:"weight"`
	Sharpness float64 `json:"sharpness"`
	Liquidity float64 `json:"liquidity"`
}

// Features are player context inputs produced upstream of the engine
type Features struct {
	InjuryProbability  float64            `json:"injury_probability"`
	MinutesRestriction float64            `json:"minutes_restriction"`
	UsageRate          float64            `json:"usage_rate,omitempty"`
	Pace               float64            `json:"pace,omitempty"`
	Projection         float64            `json:"projection,omitempty"` // Expected stat value
	StdDev             float64            `json:"std_dev,omitempty"`
	Extra              map[string]float64 `json:"extra,omitempty"`
}

// LineRange bounds the proposition lines the engine evaluates
type LineRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// CurveData is the discretized form of a probability curve for charting
type CurveData struct {
	Lines         []float64 `json:"lines"`
	Probabilities []float64 `json:"probabilities"`
}

// ConfidenceInterval bounds the fair line
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// FairMarketLine is the solved no-vig line of a market
type FairMarketLine struct {
	Line               float64            `json:"line"`
	Confidence         float64            `json:"confidence"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
	Method             string             `json:"method"`
}

// Side of a two-way proposition
type Side string

const (
	SideOver  Side = "over"
	SideUnder Side = "under"
)

// EdgeCalculation is the value of one side of one book's quote against a reference curve
type EdgeCalculation struct {
	// Market identity (filled by the service when ranking across markets)
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	Market     string `json:"market,omitempty"`

	Book               string  `json:"book"`
	Line               float64 `json:"line"`
	Side               Side    `json:"side"`
	MarketPrice        int     `json:"market_price"` // American odds
	FairProbability    float64 `json:"fair_probability"`
	FairPrice          int     `json:"fair_price"`          // American odds at FairProbability
	ImpliedProbability float64 `json:"implied_probability"` // Book's own devigged probability
	Edge               float64 `json:"edge"`
	ExpectedValue      float64 `json:"expected_value"` // Per $1 staked
	KellyFraction      float64 `json:"kelly_fraction"` // Capped at 0.25
	RecommendedStake   float64 `json:"recommended_stake"`
}

// PropMarket is the unit of work: a player proposition quoted by several books.
// The engine fills the output fields; callers own the value.
type PropMarket struct {
	PlayerID   string     `json:"player_id"`
	PlayerName string     `json:"player_name"`
	Market     string     `json:"market"`
	Sport      string     `json:"sport"`
	EventID    string     `json:"event_id"`
	Books      []BookLine `json:"books"`
	Features   Features   `json:"features"`

	// Outputs
	FairMarketLine *FairMarketLine   `json:"fair_market_line,omitempty"`
	Confidence     float64           `json:"confidence,omitempty"`
	Edges          []EdgeCalculation `json:"edges,omitempty"`
	MarketCurve    *CurveData        `json:"market_curve,omitempty"`
	ModelCurve     *CurveData        `json:"model_curve,omitempty"`
	BlendedCurve   *CurveData        `json:"blended_curve,omitempty"`
	BlendAlpha     float64           `json:"blend_alpha,omitempty"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}

// Key identifies the market for logging and stream routing
func (m PropMarket) Key() string {
	return m.EventID + ":" + m.PlayerID + ":" + m.Market
}
