// Package domain holds the core entities of the strategy execution engine
// together with the store and cache interfaces the infrastructure layers
// implement. It has no dependencies on any other internal package.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Venue identifies a supported exchange.
type Venue string

const (
	VenueBybit   Venue = "bybit"
	VenueBinance Venue = "binance"
	VenueOKX     Venue = "okx"
)

// ParseVenue normalizes a venue name from configuration.
func ParseVenue(s string) (Venue, error) {
	switch Venue(strings.ToLower(strings.TrimSpace(s))) {
	case VenueBybit:
		return VenueBybit, nil
	case VenueBinance:
		return VenueBinance, nil
	case VenueOKX:
		return VenueOKX, nil
	default:
		return "", ConfigErrorf("domain: unknown venue %q", s)
	}
}

// Category distinguishes spot from derivatives trading.
type Category string

const (
	CategorySpot    Category = "spot"
	CategoryLinear  Category = "linear" // USDT-margined perpetuals
	CategoryInverse Category = "inverse"
)

// IsDerivative reports whether the category trades margined contracts.
func (c Category) IsDerivative() bool {
	return c == CategoryLinear || c == CategoryInverse
}

// TradeMode selects the strategy executed each cycle.
type TradeMode string

const (
	ModeGrid         TradeMode = "grid"
	ModeMartingale   TradeMode = "martingale"
	ModeDCA          TradeMode = "dca"
	ModeTrailingStop TradeMode = "trailing_stop"
	ModeArbitrage    TradeMode = "arbitrage"
	ModeCustom       TradeMode = "custom"
)

// BotStatus is the lifecycle state persisted on the bot row.
type BotStatus string

const (
	BotStatusActive   BotStatus = "active"
	BotStatusInactive BotStatus = "inactive"
	BotStatusError    BotStatus = "error"
)

// Credentials carries a decrypted API key pair. Secrets never appear in
// logs; String implements the redaction.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string // OKX only
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", redact(c.APIKey), redact(c.APISecret))
}

// Bot is one configured trading bot. The scheduler reloads it from the
// store at the start of every cycle so operator edits take effect without
// a restart.
type Bot struct {
	ID             string
	Name           string
	Venue          Venue
	Category       Category
	Symbol         string      // venue-native, e.g. BTCUSDT
	Mode           TradeMode   // primary mode
	Modes          []TradeMode // combined modes, run in order when set
	Status         BotStatus
	Credentials    Credentials
	Settings       StrategySettings
	TaskInterval   time.Duration // delay between cycles
	Leverage       int           // derivatives only, 0 means venue default
	DealsCompleted int
	StopAfterDeals int // 0 disables the limit
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ModeList returns the modes to run each cycle: the combined list when one
// is configured, otherwise just the primary mode.
func (b *Bot) ModeList() []TradeMode {
	if len(b.Modes) > 0 {
		return b.Modes
	}
	return []TradeMode{b.Mode}
}

// Active reports whether the scheduler should keep cycling this bot.
func (b *Bot) Active() bool {
	return b.Status == BotStatusActive
}

// DealLimitReached reports whether the configured deal budget is spent.
func (b *Bot) DealLimitReached() bool {
	return b.StopAfterDeals > 0 && b.DealsCompleted >= b.StopAfterDeals
}
