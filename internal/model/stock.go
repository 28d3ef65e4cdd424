package model

// Stock is one security row as published by the exchange's
// getSecuritiesAndIndicesForPublic method. Values are kept as the
// exchange's strings.
type Stock struct {
	TotalVolume     string `json:"totalVolume"`
	Indicator       string `json:"indicator"`
	PercChangeClose string `json:"percChangeClose"`
	LastTradedPrice string `json:"lastTradedPrice"`
	SecurityAlias   string `json:"securityAlias"`
	SecuritySymbol  string `json:"securitySymbol"`
}
