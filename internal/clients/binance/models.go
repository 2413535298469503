package binance

// exchangeInfoResponse is the subset of /fapi/v1/exchangeInfo we consume.
type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol       string `json:"symbol"`
	ContractType string `json:"contractType"`
	QuoteAsset   string `json:"quoteAsset"`
	Status       string `json:"status"`
}

// premiumIndexEntry is one instrument's mark from /fapi/v1/premiumIndex.
// Binance encodes decimals as strings.
type premiumIndexEntry struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
}

// markPriceEvent is one element of the !markPrice@arr stream payload.
type markPriceEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}
