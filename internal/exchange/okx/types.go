package okx

// envelope is the common OKX V5 response wrapper. Code "0" means success.
type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

type instrumentRow struct {
	InstID string `json:"instId"`
	State  string `json:"state"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
}

type tickerRow struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

type balanceRow struct {
	TotalEq  string `json:"totalEq"`
	AvailEq  string `json:"availEq"`
	MgnRatio string `json:"mgnRatio"`
	Upl      string `json:"upl"`
	Details  []struct {
		Ccy      string `json:"ccy"`
		AvailBal string `json:"availBal"`
		Eq       string `json:"eq"`
	} `json:"details"`
}

type apiKeyRow struct {
	Perm string `json:"perm"` // comma-joined: read_only,trade,withdraw
}

type orderCreateRow struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

type orderRow struct {
	OrdID   string `json:"ordId"`
	InstID  string `json:"instId"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	State   string `json:"state"`
	Sz      string `json:"sz"`
	AccFill string `json:"accFillSz"`
	Px      string `json:"px"`
	AvgPx   string `json:"avgPx"`
	CTime   string `json:"cTime"`
	UTime   string `json:"uTime"`
}
