package model

import "time"

// SignalType is the trade direction of a signal.
type SignalType string

const (
	Long  SignalType = "LONG"
	Short SignalType = "SHORT"
)

// SignalStatus is the lifecycle state of a signal. OPEN moves to CLOSED once.
type SignalStatus string

const (
	StatusOpen   SignalStatus = "OPEN"
	StatusClosed SignalStatus = "CLOSED"
)

// SignalResult is set when a signal is closed.
type SignalResult string

const (
	ResultNone SignalResult = ""
	ResultWin  SignalResult = "WIN"
	ResultLoss SignalResult = "LOSS"
)

// Signal classes derived from the quality score.
const (
	ClassPremium      = "Premium"
	ClassInsufficient = "Insufficient"
)

// Signal is a scored trade setup for one symbol.
// QualityScore == TrendScore + AlignmentScore + MarketScore.
type Signal struct {
	ID             string       `json:"id"`
	Symbol         string       `json:"symbol"`
	Type           SignalType   `json:"type"`
	EntryPrice     float64      `json:"entry_price"`
	EntryTime      time.Time    `json:"entry_time"`
	TargetPrice    float64      `json:"target_price"`
	TargetExitTime time.Time    `json:"target_exit_time"`
	Status         SignalStatus `json:"status"`
	ExitPrice      *float64     `json:"exit_price,omitempty"`
	ExitTime       *time.Time   `json:"exit_time,omitempty"`
	Variation      *float64     `json:"variation,omitempty"`
	Result         SignalResult `json:"result,omitempty"`
	QualityScore   int          `json:"quality_score"`
	SignalClass    string       `json:"signal_class"`
	TrendScore     int          `json:"trend_score"`
	AlignmentScore int          `json:"alignment_score"`
	MarketScore    int          `json:"market_score"`
	StrategyInfo   string       `json:"strategy_info"`
	TrendTimeframe string       `json:"trend_timeframe"`
	EntryTimeframe string       `json:"entry_timeframe"`
}

// VariationAt returns the signed percent move from entry to price in the
// signal's favour: LONG gains when price rises, SHORT when it falls.
func (s *Signal) VariationAt(price float64) float64 {
	if s.EntryPrice == 0 {
		return 0
	}
	if s.Type == Short {
		return (s.EntryPrice - price) / s.EntryPrice * 100
	}
	return (price - s.EntryPrice) / s.EntryPrice * 100
}

// TargetVariation is the percent distance from entry to target, positive
// for both directions.
func (s *Signal) TargetVariation() float64 {
	return s.VariationAt(s.TargetPrice)
}

// ClassifyQuality derives the signal class from its score.
func ClassifyQuality(score, premiumMin int) string {
	if score >= premiumMin {
		return ClassPremium
	}
	return ClassInsufficient
}

// ResultFor maps a closing variation to WIN (> 0) or LOSS (<= 0).
func ResultFor(variation float64) SignalResult {
	if variation > 0 {
		return ResultWin
	}
	return ResultLoss
}

// Report summarises closed signals over a window.
type Report struct {
	TotalTrades    int     `json:"total_trades"`
	WinRatePercent float64 `json:"win_rate_percent"`
	AvgGainPercent float64 `json:"avg_gain_percent"`
}

// SignalFilter narrows signal queries. Zero values match everything.
type SignalFilter struct {
	Symbol string
	Status SignalStatus
	From   time.Time
	To     time.Time
	Limit  int
}
