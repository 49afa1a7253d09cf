// Package bybit implements the Bybit V5 REST client.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cexbot/internal/crypto"
	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/exchange"
)

// intervalMap translates normalized intervals to Bybit kline interval codes.
var intervalMap = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W",
}

// Client is the REST client for the Bybit V5 API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	recvWindow int
	httpClient *http.Client

	mu         sync.Mutex
	timeOffset time.Duration // server clock minus local clock
	timeSynced bool
}

var _ exchange.Client = (*Client)(nil)

// NewClient creates a Bybit client. recvWindowMs bounds how stale a signed
// request may be before the venue rejects it.
func NewClient(baseURL string, creds domain.Credentials, recvWindowMs int, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret},
		recvWindow: recvWindowMs,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Venue implements exchange.Client.
func (c *Client) Venue() domain.Venue { return domain.VenueBybit }

// GetInstrument returns the precision rules for symbol. Missing or zero
// filter values are left for the adapter to sanitize.
func (c *Client) GetInstrument(ctx context.Context, symbol string, category domain.Category) (domain.Instrument, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)

	var result instrumentsResult
	if err := c.doPublic(ctx, "/v5/market/instruments-info", params, &result); err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: get instrument %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return domain.Instrument{}, domain.BusinessErrorf("bybit: instrument %s not found", symbol)
	}

	row := result.List[0]
	step := row.LotSizeFilter.QtyStep
	if step == "" {
		step = row.LotSizeFilter.BasePrecision
	}
	return domain.Instrument{
		Venue:       domain.VenueBybit,
		Symbol:      symbol,
		Category:    category,
		TickSize:    parseFloat(row.PriceFilter.TickSize),
		QtyStep:     parseFloat(step),
		MinOrderQty: parseFloat(row.LotSizeFilter.MinOrderQty),
	}, nil
}

// GetTradingPairs returns all tradable symbols in the category.
func (c *Client) GetTradingPairs(ctx context.Context, category domain.Category) ([]string, error) {
	params := url.Values{}
	params.Set("category", string(category))

	var result instrumentsResult
	if err := c.doPublic(ctx, "/v5/market/instruments-info", params, &result); err != nil {
		return nil, fmt.Errorf("bybit: get trading pairs: %w", err)
	}

	symbols := make([]string, 0, len(result.List))
	for _, row := range result.List {
		symbols = append(symbols, row.Symbol)
	}
	return symbols, nil
}

// GetLastPrice returns the most recent trade price of symbol.
func (c *Client) GetLastPrice(ctx context.Context, symbol string, category domain.Category) (float64, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)

	var result tickersResult
	if err := c.doPublic(ctx, "/v5/market/tickers", params, &result); err != nil {
		return 0, fmt.Errorf("bybit: get last price %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return 0, domain.BusinessErrorf("bybit: no ticker for %s", symbol)
	}
	return parseFloat(result.List[0].LastPrice), nil
}

// GetKlines returns up to limit candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, category domain.Category) (domain.Window, error) {
	code, ok := intervalMap[interval]
	if !ok {
		return nil, domain.ConfigErrorf("bybit: unsupported interval %q", interval)
	}

	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)
	params.Set("interval", code)
	params.Set("limit", strconv.Itoa(limit))

	var result klineResult
	if err := c.doPublic(ctx, "/v5/market/kline", params, &result); err != nil {
		return nil, fmt.Errorf("bybit: get klines %s: %w", symbol, err)
	}

	// Rows arrive newest first; reverse into chronological order.
	window := make(domain.Window, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		window = append(window, domain.Candle{
			OpenTime: time.UnixMilli(ms),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}
	return window, nil
}

// GetBalance returns the account snapshot. Derivatives categories read the
// UNIFIED account with margin figures; spot reads the SPOT account.
func (c *Client) GetBalance(ctx context.Context, category domain.Category) (domain.Balance, error) {
	accountType := "SPOT"
	if category.IsDerivative() {
		accountType = "UNIFIED"
	}

	params := url.Values{}
	params.Set("accountType", accountType)

	var result walletBalanceResult
	if err := c.doSigned(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, &result); err != nil {
		return domain.Balance{}, fmt.Errorf("bybit: get balance: %w", err)
	}
	if len(result.List) == 0 {
		return domain.Balance{}, domain.BusinessErrorf("bybit: empty wallet balance")
	}

	row := result.List[0]
	bal := domain.Balance{
		TotalEquity:   parseFloat(row.TotalEquity),
		Available:     parseFloat(row.TotalAvailable),
		MarginBalance: parseFloat(row.TotalMarginBalance),
		UnrealizedPnL: parseFloat(row.TotalPerpUPL),
	}
	// Margin ratio: maintenance margin over margin balance, matching the
	// venue's liquidation trigger direction (higher is worse).
	if mb := bal.MarginBalance; mb > 0 {
		bal.MarginRatio = parseFloat(row.TotalMaintMargin) / mb
	}
	return bal, nil
}

// CheckPermissions reads the API key's own metadata.
func (c *Client) CheckPermissions(ctx context.Context) (domain.KeyPermissions, error) {
	var result apiKeyInfoResult
	if err := c.doSigned(ctx, http.MethodGet, "/v5/user/query-api", url.Values{}, nil, &result); err != nil {
		return domain.KeyPermissions{}, fmt.Errorf("bybit: check permissions: %w", err)
	}

	perms := domain.KeyPermissions{ReadOnly: result.ReadOnly == 1}
	for group, actions := range result.Permissions {
		switch group {
		case "Spot", "ContractTrade", "Derivatives":
			if len(actions) > 0 {
				perms.CanTrade = true
			}
		case "Wallet":
			for _, a := range actions {
				if strings.Contains(a, "Withdraw") {
					perms.CanWithdraw = true
				}
			}
		}
	}
	return perms, nil
}

// CreateOrder submits an order. Qty and price must already be aligned to
// the instrument's step and tick.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	body := map[string]string{
		"category":  string(req.Category),
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": string(req.Type),
		"qty":       exchange.FormatDecimal(req.Qty),
	}
	if req.Type == domain.OrderTypeLimit {
		body["price"] = exchange.FormatDecimal(req.Price)
		body["timeInForce"] = "GTC"
	}

	var result orderCreateResult
	if err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", nil, body, &result); err != nil {
		return domain.Order{}, fmt.Errorf("bybit: create order: %w", err)
	}

	return domain.Order{
		ID:        result.OrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    domain.OrderStatusNew,
		Qty:       req.Qty,
		Price:     req.Price,
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder cancels a resting order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, category domain.Category, orderID string) error {
	body := map[string]string{
		"category": string(category),
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v5/order/cancel", nil, body, &json.RawMessage{}); err != nil {
		return fmt.Errorf("bybit: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOpenOrders returns the resting orders for symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string, category domain.Category) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)

	var result orderListResult
	if err := c.doSigned(ctx, http.MethodGet, "/v5/order/realtime", params, nil, &result); err != nil {
		return nil, fmt.Errorf("bybit: get open orders: %w", err)
	}
	return convertOrders(result.List), nil
}

// GetOrderHistory returns recent closed orders for symbol, newest first.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, category domain.Category, limit int) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	var result orderListResult
	if err := c.doSigned(ctx, http.MethodGet, "/v5/order/history", params, nil, &result); err != nil {
		return nil, fmt.Errorf("bybit: get order history: %w", err)
	}
	return convertOrders(result.List), nil
}

// SetLeverage sets symmetric buy/sell leverage on a derivatives symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, category domain.Category, leverage int) error {
	if !category.IsDerivative() {
		return nil
	}
	body := map[string]string{
		"category":     string(category),
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v5/position/set-leverage", nil, body, &json.RawMessage{}); err != nil {
		// Setting leverage to the value it already has is rejected with
		// retCode 110043; treat that as success.
		if strings.Contains(err.Error(), "110043") {
			return nil
		}
		return fmt.Errorf("bybit: set leverage: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// serverTimeMs returns the current time in venue milliseconds. The offset
// against the venue clock is fetched once and reused; on failure the local
// clock is used so a flaky time endpoint never fails a trading cycle.
func (c *Client) serverTimeMs(ctx context.Context) int64 {
	c.mu.Lock()
	synced := c.timeSynced
	offset := c.timeOffset
	c.mu.Unlock()

	if synced {
		return time.Now().Add(offset).UnixMilli()
	}

	var result serverTimeResult
	if err := c.doPublic(ctx, "/v5/market/time", url.Values{}, &result); err != nil {
		return time.Now().UnixMilli()
	}
	nanos, err := strconv.ParseInt(result.TimeNano, 10, 64)
	if err != nil || nanos <= 0 {
		return time.Now().UnixMilli()
	}

	serverMs := nanos / int64(time.Millisecond)
	c.mu.Lock()
	c.timeOffset = time.Until(time.UnixMilli(serverMs))
	c.timeSynced = true
	offset = c.timeOffset
	c.mu.Unlock()

	return time.Now().Add(offset).UnixMilli()
}

// doPublic performs an unsigned GET against a market-data endpoint.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values, out any) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.send(req, out)
}

// doSigned performs a signed request. GET requests sign the sorted query
// string; POST requests sign the JSON body.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, body map[string]string, out any) error {
	ts := c.serverTimeMs(ctx)

	var payload string
	var bodyReader io.Reader
	fullURL := c.baseURL + path

	if method == http.MethodGet {
		payload = sortedQuery(params)
		if payload != "" {
			fullURL += "?" + payload
		}
	} else {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("X-BAPI-API-KEY", c.auth.Key)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(c.recvWindow))
	req.Header.Set("X-BAPI-SIGN", c.auth.SignBybit(ts, c.recvWindow, payload))

	return c.send(req, out)
}

// send executes the request, unwraps the retCode envelope and decodes the
// result into out.
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
		return domain.BusinessErrorf("HTTP %d: %s", resp.StatusCode, truncate(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return domain.ConnectivityErrorf("decode envelope: %v", err)
	}
	if env.RetCode != 0 {
		return domain.BusinessErrorf("retCode %d: %s", env.RetCode, env.RetMsg)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return domain.ConnectivityErrorf("decode result: %v", err)
		}
	}
	return nil
}

// sortedQuery encodes params with keys in ascending order, the form the
// signature is computed over. url.Values.Encode already sorts keys.
func sortedQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	return params.Encode()
}

func convertOrders(rows []orderRow) []domain.Order {
	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		price := parseFloat(row.Price)
		if avg := parseFloat(row.AvgPrice); avg > 0 {
			price = avg
		}
		created, _ := strconv.ParseInt(row.CreatedTime, 10, 64)
		updated, _ := strconv.ParseInt(row.UpdatedTime, 10, 64)
		orders = append(orders, domain.Order{
			ID:        row.OrderID,
			Symbol:    row.Symbol,
			Side:      domain.OrderSide(row.Side),
			Type:      domain.OrderType(row.OrderType),
			Status:    convertStatus(row.OrderStatus),
			Qty:       parseFloat(row.Qty),
			FilledQty: parseFloat(row.CumExecQty),
			Price:     price,
			CreatedAt: time.UnixMilli(created),
			UpdatedAt: time.UnixMilli(updated),
		})
	}
	return orders
}

func convertStatus(s string) domain.OrderStatus {
	switch s {
	case "New", "Untriggered", "Triggered":
		return domain.OrderStatusNew
	case "PartiallyFilled":
		return domain.OrderStatusPartiallyFilled
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatus(s)
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// truncate bounds a response body for error messages.
func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
