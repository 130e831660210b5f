package model

const (
	StatusTrading     = "TRADING"
	ContractPerpetual = "PERPETUAL"
	QuoteUSDT         = "USDT"
)

// Instrument is the exchange metadata needed to decide whether a futures
// contract belongs in the scan universe.
type Instrument struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	ContractType string `json:"contract_type"`
	QuoteAsset   string `json:"quote_asset"`
	MaxLeverage  int    `json:"max_leverage"` // 0 when the exchange did not report it
}

// Eligible reports whether the instrument is an actively trading USDT
// perpetual allowing at least minLeverage.
func (i *Instrument) Eligible(minLeverage int) bool {
	return i.Status == StatusTrading &&
		i.ContractType == ContractPerpetual &&
		i.QuoteAsset == QuoteUSDT &&
		i.MaxLeverage >= minLeverage
}
