// Package okx implements the OKX V5 REST client.
package okx

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
	"time"

	"github.com/alanyoungcy/cexbot/internal/crypto"
	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/exchange"
)

// intervalMap translates normalized intervals to OKX bar codes. Hours and
// above are uppercase on OKX.
var intervalMap = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "1w": "1W",
}

// quoteCurrencies are tried longest-first when splitting a concatenated
// symbol like BTCUSDT into OKX's dashed BTC-USDT form.
var quoteCurrencies = []string{"USDT", "USDC", "BTC", "ETH", "EUR", "USD"}

// Client is the REST client for the OKX V5 API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

var _ exchange.Client = (*Client)(nil)

// NewClient creates an OKX client. OKX requires the passphrase chosen when
// the API key was created in addition to the key pair.
func NewClient(baseURL string, creds domain.Credentials, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth: &crypto.HMACAuth{
			Key:        creds.APIKey,
			Secret:     creds.APISecret,
			Passphrase: creds.Passphrase,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Venue implements exchange.Client.
func (c *Client) Venue() domain.Venue { return domain.VenueOKX }

// GetInstrument returns the precision rules for symbol.
func (c *Client) GetInstrument(ctx context.Context, symbol string, category domain.Category) (domain.Instrument, error) {
	instID := toInstID(symbol, category)
	path := "/api/v5/public/instruments?instType=" + instType(category) + "&instId=" + url.QueryEscape(instID)

	rows, err := do[instrumentRow](c, ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("okx: get instrument %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return domain.Instrument{}, domain.BusinessErrorf("okx: instrument %s not found", instID)
	}

	row := rows[0]
	return domain.Instrument{
		Venue:       domain.VenueOKX,
		Symbol:      symbol,
		Category:    category,
		TickSize:    parseFloat(row.TickSz),
		QtyStep:     parseFloat(row.LotSz),
		MinOrderQty: parseFloat(row.MinSz),
	}, nil
}

// GetTradingPairs returns all live instruments in the category, in the
// venue's dashed form.
func (c *Client) GetTradingPairs(ctx context.Context, category domain.Category) ([]string, error) {
	path := "/api/v5/public/instruments?instType=" + instType(category)

	rows, err := do[instrumentRow](c, ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("okx: get trading pairs: %w", err)
	}

	symbols := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.State == "live" {
			symbols = append(symbols, row.InstID)
		}
	}
	return symbols, nil
}

// GetLastPrice returns the most recent trade price of symbol.
func (c *Client) GetLastPrice(ctx context.Context, symbol string, category domain.Category) (float64, error) {
	instID := toInstID(symbol, category)
	path := "/api/v5/market/ticker?instId=" + url.QueryEscape(instID)

	rows, err := do[tickerRow](c, ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("okx: get last price %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return 0, domain.BusinessErrorf("okx: no ticker for %s", instID)
	}
	return parseFloat(rows[0].Last), nil
}

// GetKlines returns up to limit candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, category domain.Category) (domain.Window, error) {
	bar, ok := intervalMap[interval]
	if !ok {
		return nil, domain.ConfigErrorf("okx: unsupported interval %q", interval)
	}

	instID := toInstID(symbol, category)
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		url.QueryEscape(instID), bar, limit)

	// Each row is [ts, o, h, l, c, vol, ...], newest first.
	rows, err := do[[]string](c, ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("okx: get klines %s: %w", symbol, err)
	}

	window := make(domain.Window, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
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

// GetBalance returns the unified account snapshot.
func (c *Client) GetBalance(ctx context.Context, category domain.Category) (domain.Balance, error) {
	rows, err := do[balanceRow](c, ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("okx: get balance: %w", err)
	}
	if len(rows) == 0 {
		return domain.Balance{}, domain.BusinessErrorf("okx: empty balance")
	}

	row := rows[0]
	bal := domain.Balance{
		TotalEquity:   parseFloat(row.TotalEq),
		Available:     parseFloat(row.AvailEq),
		MarginBalance: parseFloat(row.TotalEq),
		UnrealizedPnL: parseFloat(row.Upl),
	}
	// OKX reports mgnRatio as equity over maintenance margin (higher is
	// safer); invert onto the engine's higher-is-worse scale.
	if r := parseFloat(row.MgnRatio); r > 0 {
		bal.MarginRatio = 1 / r
	}
	if bal.Available == 0 {
		for _, d := range row.Details {
			if d.Ccy == "USDT" || d.Ccy == "USDC" {
				bal.Available += parseFloat(d.AvailBal)
			}
		}
	}
	return bal, nil
}

// CheckPermissions reads the key's permission string from the account
// configuration.
func (c *Client) CheckPermissions(ctx context.Context) (domain.KeyPermissions, error) {
	rows, err := do[apiKeyRow](c, ctx, http.MethodGet, "/api/v5/account/config", nil)
	if err != nil {
		return domain.KeyPermissions{}, fmt.Errorf("okx: check permissions: %w", err)
	}
	if len(rows) == 0 {
		return domain.KeyPermissions{}, domain.BusinessErrorf("okx: empty account config")
	}

	perm := rows[0].Perm
	return domain.KeyPermissions{
		CanTrade:    strings.Contains(perm, "trade"),
		CanWithdraw: strings.Contains(perm, "withdraw"),
		ReadOnly:    perm == "read_only",
	}, nil
}

// CreateOrder submits an order. Qty and price must already be aligned to
// the instrument's step and tick.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	body := map[string]string{
		"instId":  toInstID(req.Symbol, req.Category),
		"tdMode":  tdMode(req.Category),
		"side":    strings.ToLower(string(req.Side)),
		"ordType": strings.ToLower(string(req.Type)),
		"sz":      exchange.FormatDecimal(req.Qty),
	}
	if req.Type == domain.OrderTypeLimit {
		body["px"] = exchange.FormatDecimal(req.Price)
	}

	rows, err := do[orderCreateRow](c, ctx, http.MethodPost, "/api/v5/trade/order", body)
	if err != nil {
		return domain.Order{}, fmt.Errorf("okx: create order: %w", err)
	}
	if len(rows) == 0 {
		return domain.Order{}, domain.BusinessErrorf("okx: empty order response")
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		return domain.Order{}, domain.BusinessErrorf("okx: order rejected sCode %s: %s", rows[0].SCode, rows[0].SMsg)
	}

	return domain.Order{
		ID:        rows[0].OrdID,
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
		"instId": toInstID(symbol, category),
		"ordId":  orderID,
	}
	if _, err := do[json.RawMessage](c, ctx, http.MethodPost, "/api/v5/trade/cancel-order", body); err != nil {
		return fmt.Errorf("okx: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOpenOrders returns the resting orders for symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string, category domain.Category) ([]domain.Order, error) {
	instID := toInstID(symbol, category)
	path := "/api/v5/trade/orders-pending?instId=" + url.QueryEscape(instID)

	rows, err := do[orderRow](c, ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("okx: get open orders: %w", err)
	}
	return convertOrders(rows, symbol), nil
}

// GetOrderHistory returns recent completed orders for symbol.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, category domain.Category, limit int) ([]domain.Order, error) {
	instID := toInstID(symbol, category)
	path := fmt.Sprintf("/api/v5/trade/orders-history?instType=%s&instId=%s&limit=%d",
		instType(category), url.QueryEscape(instID), limit)

	rows, err := do[orderRow](c, ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("okx: get order history: %w", err)
	}
	return convertOrders(rows, symbol), nil
}

// SetLeverage sets cross-margin leverage on a derivatives instrument.
func (c *Client) SetLeverage(ctx context.Context, symbol string, category domain.Category, leverage int) error {
	if !category.IsDerivative() {
		return nil
	}
	body := map[string]string{
		"instId":  toInstID(symbol, category),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	}
	if _, err := do[json.RawMessage](c, ctx, http.MethodPost, "/api/v5/account/set-leverage", body); err != nil {
		return fmt.Errorf("okx: set leverage: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, signs, sends and decodes one request. The signature covers
// timestamp + method + requestPath (query included) + body.
func do[T any](c *Client, ctx context.Context, method, path string, body map[string]string) ([]T, error) {
	var bodyStr string
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	ts := crypto.OKXTimestamp(time.Now())
	req.Header.Set("OK-ACCESS-KEY", c.auth.Key)
	req.Header.Set("OK-ACCESS-SIGN", c.auth.SignOKX(ts, method, path, bodyStr))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.auth.Passphrase)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.ConnectivityErrorf("http request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ConnectivityErrorf("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.BusinessErrorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var env envelope[T]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, domain.ConnectivityErrorf("decode envelope: %v", err)
	}
	if env.Code != "0" {
		return nil, domain.BusinessErrorf("code %s: %s", env.Code, env.Msg)
	}
	return env.Data, nil
}

// toInstID converts a concatenated symbol to OKX's dashed instrument id.
// Symbols already containing a dash pass through; derivatives get the
// -SWAP suffix.
func toInstID(symbol string, category domain.Category) string {
	instID := symbol
	if !strings.Contains(symbol, "-") {
		for _, quote := range quoteCurrencies {
			if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
				instID = symbol[:len(symbol)-len(quote)] + "-" + quote
				break
			}
		}
	}
	if category.IsDerivative() && !strings.HasSuffix(instID, "-SWAP") {
		instID += "-SWAP"
	}
	return instID
}

func instType(category domain.Category) string {
	if category.IsDerivative() {
		return "SWAP"
	}
	return "SPOT"
}

// tdMode maps the category onto OKX's trade mode: cash for spot, cross
// margin for derivatives.
func tdMode(category domain.Category) string {
	if category.IsDerivative() {
		return "cross"
	}
	return "cash"
}

func convertOrders(rows []orderRow, symbol string) []domain.Order {
	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		price := parseFloat(row.Px)
		if avg := parseFloat(row.AvgPx); avg > 0 {
			price = avg
		}
		created, _ := strconv.ParseInt(row.CTime, 10, 64)
		updated, _ := strconv.ParseInt(row.UTime, 10, 64)
		orders = append(orders, domain.Order{
			ID:        row.OrdID,
			Symbol:    symbol,
			Side:      convertSide(row.Side),
			Type:      convertType(row.OrdType),
			Status:    convertState(row.State),
			Qty:       parseFloat(row.Sz),
			FilledQty: parseFloat(row.AccFill),
			Price:     price,
			CreatedAt: time.UnixMilli(created),
			UpdatedAt: time.UnixMilli(updated),
		})
	}
	return orders
}

func convertSide(s string) domain.OrderSide {
	if strings.EqualFold(s, "sell") {
		return domain.SideSell
	}
	return domain.SideBuy
}

func convertType(s string) domain.OrderType {
	if strings.EqualFold(s, "market") {
		return domain.OrderTypeMarket
	}
	return domain.OrderTypeLimit
}

func convertState(s string) domain.OrderStatus {
	switch s {
	case "live":
		return domain.OrderStatusNew
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "mmp_canceled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatus(s)
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
