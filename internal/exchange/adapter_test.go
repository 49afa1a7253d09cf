package exchange

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// fakeClient is a canned venue client.
type fakeClient struct {
	instrument domain.Instrument
	perms      domain.KeyPermissions
	price      float64

	created    []domain.OrderRequest
	priceCalls int
}

func (f *fakeClient) Venue() domain.Venue { return domain.VenueBybit }

func (f *fakeClient) GetInstrument(context.Context, string, domain.Category) (domain.Instrument, error) {
	return f.instrument, nil
}

func (f *fakeClient) GetTradingPairs(context.Context, domain.Category) ([]string, error) {
	return []string{"BTCUSDT"}, nil
}

func (f *fakeClient) GetLastPrice(context.Context, string, domain.Category) (float64, error) {
	f.priceCalls++
	return f.price, nil
}

func (f *fakeClient) GetKlines(context.Context, string, string, int, domain.Category) (domain.Window, error) {
	return nil, nil
}

func (f *fakeClient) GetBalance(context.Context, domain.Category) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (f *fakeClient) CheckPermissions(context.Context) (domain.KeyPermissions, error) {
	return f.perms, nil
}

func (f *fakeClient) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	f.created = append(f.created, req)
	return domain.Order{ID: "ord-1", Qty: req.Qty, Price: req.Price}, nil
}

func (f *fakeClient) CancelOrder(context.Context, string, domain.Category, string) error {
	return nil
}

func (f *fakeClient) GetOpenOrders(context.Context, string, domain.Category) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeClient) GetOrderHistory(context.Context, string, domain.Category, int) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeClient) SetLeverage(context.Context, string, domain.Category, int) error {
	return nil
}

var _ Client = (*fakeClient)(nil)

func newTestAdapter(client *fakeClient) *Adapter {
	return NewAdapter(client, DefaultAdapterConfig(), nil, Caches{}, slog.Default())
}

func TestCreateOrderFloorsToPrecision(t *testing.T) {
	client := &fakeClient{
		instrument: domain.Instrument{TickSize: 0.5, QtyStep: 0.001, MinOrderQty: 0.001},
	}
	adapter := newTestAdapter(client)

	order, err := adapter.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "BTCUSDT",
		Category: domain.CategorySpot,
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Qty:      0.12349,
		Price:    50000.37,
	})
	require.NoError(t, err)

	require.Len(t, client.created, 1)
	assert.InDelta(t, 0.123, client.created[0].Qty, 1e-12)
	assert.InDelta(t, 50000.0, client.created[0].Price, 1e-9)
	assert.Equal(t, "ord-1", order.ID)
}

func TestCreateOrderRejectsSubMinimum(t *testing.T) {
	client := &fakeClient{
		instrument: domain.Instrument{TickSize: 0.5, QtyStep: 0.001, MinOrderQty: 0.01},
	}
	adapter := newTestAdapter(client)

	_, err := adapter.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "BTCUSDT",
		Category: domain.CategorySpot,
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeMarket,
		Qty:      0.0015, // floors to 0.001, under the 0.01 minimum
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBusiness)
	assert.Empty(t, client.created, "sub-minimum orders never reach the venue")
}

func TestInstrumentSanitizesBadMetadata(t *testing.T) {
	client := &fakeClient{
		instrument: domain.Instrument{TickSize: 0, QtyStep: -1, MinOrderQty: 0},
	}
	adapter := newTestAdapter(client)

	inst, err := adapter.Instrument(context.Background(), "BTCUSDT", domain.CategorySpot)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTickSize, inst.TickSize)
	assert.Equal(t, domain.DefaultQtyStep, inst.QtyStep)
	assert.Equal(t, domain.DefaultMinOrderQty, inst.MinOrderQty)
}

func TestCheckPermissions(t *testing.T) {
	withdraw := &fakeClient{perms: domain.KeyPermissions{CanTrade: true, CanWithdraw: true}}
	err := newTestAdapter(withdraw).CheckPermissions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBusiness)

	noTrade := &fakeClient{perms: domain.KeyPermissions{CanTrade: false}}
	err = newTestAdapter(noTrade).CheckPermissions(context.Background())
	require.Error(t, err)

	good := &fakeClient{perms: domain.KeyPermissions{CanTrade: true}}
	assert.NoError(t, newTestAdapter(good).CheckPermissions(context.Background()))
}
