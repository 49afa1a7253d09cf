package bybit

import "encoding/json"

// envelope is the common Bybit V5 response wrapper. RetCode 0 means the
// request was accepted; anything else is a venue-side rejection.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type serverTimeResult struct {
	TimeSecond string `json:"timeSecond"`
	TimeNano   string `json:"timeNano"`
}

type instrumentsResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep       string `json:"qtyStep"`       // derivatives
			BasePrecision string `json:"basePrecision"` // spot
			MinOrderQty   string `json:"minOrderQty"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type klineResult struct {
	// Each row is [startMs, open, high, low, close, volume, turnover],
	// newest first.
	List [][]string `json:"list"`
}

type walletBalanceResult struct {
	List []struct {
		TotalEquity        string `json:"totalEquity"`
		TotalAvailable     string `json:"totalAvailableBalance"`
		TotalMarginBalance string `json:"totalMarginBalance"`
		TotalPerpUPL       string `json:"totalPerpUPL"`
		AccountIMRate      string `json:"accountIMRate"`
		TotalInitialMargin string `json:"totalInitialMargin"`
		TotalMaintMargin   string `json:"totalMaintenanceMargin"`
	} `json:"list"`
}

type apiKeyInfoResult struct {
	ReadOnly    int                 `json:"readOnly"`
	Permissions map[string][]string `json:"permissions"`
}

type orderCreateResult struct {
	OrderID string `json:"orderId"`
}

type orderListResult struct {
	List []orderRow `json:"list"`
}

type orderRow struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}
