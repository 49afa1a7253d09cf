package binance

// apiError is Binance's error body, returned with non-2xx status codes.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type spotAccount struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type futuresAccount struct {
	TotalWalletBalance string `json:"totalWalletBalance"`
	TotalMarginBalance string `json:"totalMarginBalance"`
	TotalUnrealized    string `json:"totalUnrealizedProfit"`
	TotalMaintMargin   string `json:"totalMaintMargin"`
	AvailableBalance   string `json:"availableBalance"`
}

type apiRestrictions struct {
	EnableReading    bool `json:"enableReading"`
	EnableSpot       bool `json:"enableSpotAndMarginTrading"`
	EnableFutures    bool `json:"enableFutures"`
	EnableWithdrawal bool `json:"enableWithdrawals"`
}

type orderRow struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"` // futures only
	Time        int64  `json:"time"`
	UpdateTime  int64  `json:"updateTime"`
}
