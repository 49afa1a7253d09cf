// Package binance implements the Binance spot and USDT-futures REST client.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cexbot/internal/crypto"
	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/exchange"
)

// validIntervals are the Binance-native kline intervals, which match the
// normalized form directly.
var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "12h": true,
	"1d": true, "1w": true,
}

// Client is the REST client for the Binance API. Spot and futures use
// different hosts and partially different paths; the category on each call
// selects between them.
type Client struct {
	spotURL    string
	futuresURL string
	auth       *crypto.HMACAuth
	recvWindow int
	httpClient *http.Client
}

var _ exchange.Client = (*Client)(nil)

// NewClient creates a Binance client for both the spot and futures hosts.
func NewClient(spotURL, futuresURL string, creds domain.Credentials, recvWindowMs int, timeout time.Duration) *Client {
	return &Client{
		spotURL:    strings.TrimRight(spotURL, "/"),
		futuresURL: strings.TrimRight(futuresURL, "/"),
		auth:       &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret},
		recvWindow: recvWindowMs,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Venue implements exchange.Client.
func (c *Client) Venue() domain.Venue { return domain.VenueBinance }

// GetInstrument returns precision rules extracted from the symbol filters.
func (c *Client) GetInstrument(ctx context.Context, symbol string, category domain.Category) (domain.Instrument, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var info exchangeInfo
	if err := c.doPublic(ctx, category, c.infoPath(category), params, &info); err != nil {
		return domain.Instrument{}, fmt.Errorf("binance: get instrument %s: %w", symbol, err)
	}
	if len(info.Symbols) == 0 {
		return domain.Instrument{}, domain.BusinessErrorf("binance: instrument %s not found", symbol)
	}

	inst := domain.Instrument{
		Venue:    domain.VenueBinance,
		Symbol:   symbol,
		Category: category,
	}
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			inst.TickSize = parseFloat(f.TickSize)
		case "LOT_SIZE":
			inst.QtyStep = parseFloat(f.StepSize)
			inst.MinOrderQty = parseFloat(f.MinQty)
		}
	}
	return inst, nil
}

// GetTradingPairs returns all symbols currently trading in the category.
func (c *Client) GetTradingPairs(ctx context.Context, category domain.Category) ([]string, error) {
	var info exchangeInfo
	if err := c.doPublic(ctx, category, c.infoPath(category), url.Values{}, &info); err != nil {
		return nil, fmt.Errorf("binance: get trading pairs: %w", err)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// GetLastPrice returns the most recent trade price of symbol.
func (c *Client) GetLastPrice(ctx context.Context, symbol string, category domain.Category) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	path := "/api/v3/ticker/price"
	if category.IsDerivative() {
		path = "/fapi/v1/ticker/price"
	}

	var ticker tickerPrice
	if err := c.doPublic(ctx, category, path, params, &ticker); err != nil {
		return 0, fmt.Errorf("binance: get last price %s: %w", symbol, err)
	}
	return parseFloat(ticker.Price), nil
}

// GetKlines returns up to limit candles, oldest first (Binance's native order).
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, category domain.Category) (domain.Window, error) {
	if !validIntervals[interval] {
		return nil, domain.ConfigErrorf("binance: unsupported interval %q", interval)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	path := "/api/v3/klines"
	if category.IsDerivative() {
		path = "/fapi/v1/klines"
	}

	// Each row is [openMs, open, high, low, close, volume, ...] with the
	// numeric columns as strings.
	var rows [][]json.RawMessage
	if err := c.doPublic(ctx, category, path, params, &rows); err != nil {
		return nil, fmt.Errorf("binance: get klines %s: %w", symbol, err)
	}

	window := make(domain.Window, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var ms int64
		if err := json.Unmarshal(row[0], &ms); err != nil {
			continue
		}
		window = append(window, domain.Candle{
			OpenTime: time.UnixMilli(ms),
			Open:     rawFloat(row[1]),
			High:     rawFloat(row[2]),
			Low:      rawFloat(row[3]),
			Close:    rawFloat(row[4]),
			Volume:   rawFloat(row[5]),
		})
	}
	return window, nil
}

// GetBalance returns the account snapshot. Spot sums free+locked USDT-ish
// stables as available; futures exposes the margin figures directly.
func (c *Client) GetBalance(ctx context.Context, category domain.Category) (domain.Balance, error) {
	if category.IsDerivative() {
		var acct futuresAccount
		if err := c.doSignedReq(ctx, category, http.MethodGet, "/fapi/v2/account", url.Values{}, &acct); err != nil {
			return domain.Balance{}, fmt.Errorf("binance: get futures balance: %w", err)
		}
		bal := domain.Balance{
			TotalEquity:   parseFloat(acct.TotalMarginBalance),
			Available:     parseFloat(acct.AvailableBalance),
			MarginBalance: parseFloat(acct.TotalMarginBalance),
			UnrealizedPnL: parseFloat(acct.TotalUnrealized),
		}
		if mb := bal.MarginBalance; mb > 0 {
			bal.MarginRatio = parseFloat(acct.TotalMaintMargin) / mb
		}
		return bal, nil
	}

	var acct spotAccount
	if err := c.doSignedReq(ctx, category, http.MethodGet, "/api/v3/account", url.Values{}, &acct); err != nil {
		return domain.Balance{}, fmt.Errorf("binance: get spot balance: %w", err)
	}

	var bal domain.Balance
	for _, b := range acct.Balances {
		switch b.Asset {
		case "USDT", "USDC", "BUSD":
			bal.Available += parseFloat(b.Free)
			bal.TotalEquity += parseFloat(b.Free) + parseFloat(b.Locked)
		}
	}
	return bal, nil
}

// CheckPermissions reads the key's API restrictions (spot host only).
func (c *Client) CheckPermissions(ctx context.Context) (domain.KeyPermissions, error) {
	var restr apiRestrictions
	if err := c.doSignedReq(ctx, domain.CategorySpot, http.MethodGet, "/sapi/v1/account/apiRestrictions", url.Values{}, &restr); err != nil {
		return domain.KeyPermissions{}, fmt.Errorf("binance: check permissions: %w", err)
	}
	return domain.KeyPermissions{
		CanTrade:    restr.EnableSpot || restr.EnableFutures,
		CanWithdraw: restr.EnableWithdrawal,
		ReadOnly:    restr.EnableReading && !restr.EnableSpot && !restr.EnableFutures,
	}, nil
}

// CreateOrder submits an order. Qty and price must already be aligned to
// the instrument's step and tick.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", exchange.FormatDecimal(req.Qty))
	if req.Type == domain.OrderTypeLimit {
		params.Set("price", exchange.FormatDecimal(req.Price))
		params.Set("timeInForce", "GTC")
	}

	path := "/api/v3/order"
	if req.Category.IsDerivative() {
		path = "/fapi/v1/order"
	}

	var row orderRow
	if err := c.doSignedReq(ctx, req.Category, http.MethodPost, path, params, &row); err != nil {
		return domain.Order{}, fmt.Errorf("binance: create order: %w", err)
	}

	return domain.Order{
		ID:        strconv.FormatInt(row.OrderID, 10),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    convertStatus(row.Status),
		Qty:       req.Qty,
		Price:     req.Price,
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder cancels a resting order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, category domain.Category, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	path := "/api/v3/order"
	if category.IsDerivative() {
		path = "/fapi/v1/order"
	}
	if err := c.doSignedReq(ctx, category, http.MethodDelete, path, params, &json.RawMessage{}); err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOpenOrders returns the resting orders for symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string, category domain.Category) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	path := "/api/v3/openOrders"
	if category.IsDerivative() {
		path = "/fapi/v1/openOrders"
	}

	var rows []orderRow
	if err := c.doSignedReq(ctx, category, http.MethodGet, path, params, &rows); err != nil {
		return nil, fmt.Errorf("binance: get open orders: %w", err)
	}
	return convertOrders(rows), nil
}

// GetOrderHistory returns recent orders for symbol.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, category domain.Category, limit int) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	path := "/api/v3/allOrders"
	if category.IsDerivative() {
		path = "/fapi/v1/allOrders"
	}

	var rows []orderRow
	if err := c.doSignedReq(ctx, category, http.MethodGet, path, params, &rows); err != nil {
		return nil, fmt.Errorf("binance: get order history: %w", err)
	}
	return convertOrders(rows), nil
}

// SetLeverage sets leverage on a futures symbol. Spot is a no-op.
func (c *Client) SetLeverage(ctx context.Context, symbol string, category domain.Category, leverage int) error {
	if !category.IsDerivative() {
		return nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	if err := c.doSignedReq(ctx, category, http.MethodPost, "/fapi/v1/leverage", params, &json.RawMessage{}); err != nil {
		return fmt.Errorf("binance: set leverage: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) host(category domain.Category) string {
	if category.IsDerivative() {
		return c.futuresURL
	}
	return c.spotURL
}

func (c *Client) infoPath(category domain.Category) string {
	if category.IsDerivative() {
		return "/fapi/v1/exchangeInfo"
	}
	return "/api/v3/exchangeInfo"
}

// doPublic performs an unsigned GET against a market-data endpoint.
func (c *Client) doPublic(ctx context.Context, category domain.Category, path string, params url.Values, out any) error {
	fullURL := c.host(category) + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.send(req, out)
}


// doSignedReq signs the query string (including timestamp and
// recvWindow) and appends the signature parameter. Binance carries all
// signed request data in the query string regardless of HTTP method.
func (c *Client) doSignedReq(ctx context.Context, category domain.Category, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))

	query := params.Encode() // sorted by key
	query += "&signature=" + c.auth.SignBinance(query)

	fullURL := c.host(category) + path + "?" + query

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.auth.Key)

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ConnectivityErrorf("http request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ConnectivityErrorf("read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		return domain.BusinessErrorf("HTTP %d code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Msg)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.ConnectivityErrorf("decode response: %v", err)
		}
	}
	return nil
}

func convertOrders(rows []orderRow) []domain.Order {
	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		price := parseFloat(row.Price)
		if avg := parseFloat(row.AvgPrice); avg > 0 {
			price = avg
		}
		orders = append(orders, domain.Order{
			ID:        strconv.FormatInt(row.OrderID, 10),
			Symbol:    row.Symbol,
			Side:      convertSide(row.Side),
			Type:      convertType(row.Type),
			Status:    convertStatus(row.Status),
			Qty:       parseFloat(row.OrigQty),
			FilledQty: parseFloat(row.ExecutedQty),
			Price:     price,
			CreatedAt: time.UnixMilli(row.Time),
			UpdatedAt: time.UnixMilli(row.UpdateTime),
		})
	}
	return orders
}

func convertSide(s string) domain.OrderSide {
	if strings.EqualFold(s, "SELL") {
		return domain.SideSell
	}
	return domain.SideBuy
}

func convertType(s string) domain.OrderType {
	if strings.EqualFold(s, "MARKET") {
		return domain.OrderTypeMarket
	}
	return domain.OrderTypeLimit
}

func convertStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.OrderStatusNew
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatus(s)
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func rawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	var f float64
	_ = json.Unmarshal(raw, &f)
	return f
}
