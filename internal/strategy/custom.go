package strategy

import (
	"context"
	"sync"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// Custom dispatches to operator-registered strategies by the name in the
// bot's settings. Nothing is built in, so out of the box custom mode is
// not implemented and fails until an operator registers a plugin.
type Custom struct {
	mu      sync.RWMutex
	plugins map[string]Strategy
}

var _ Strategy = (*Custom)(nil)

// NewCustom creates an empty Custom dispatcher.
func NewCustom() *Custom {
	return &Custom{plugins: make(map[string]Strategy)}
}

// Name implements Strategy.
func (c *Custom) Name() domain.TradeMode { return domain.ModeCustom }

// RegisterPlugin adds a named strategy reachable via custom mode.
func (c *Custom) RegisterPlugin(name string, s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins[name] = s
}

// RunCycle implements Strategy.
func (c *Custom) RunCycle(ctx context.Context, cycle *Cycle) error {
	name := cycle.Bot.Settings.CustomName

	c.mu.RLock()
	plugin, ok := c.plugins[name]
	c.mu.RUnlock()

	if !ok {
		return domain.ConfigErrorf("strategy: custom mode not implemented: no strategy registered under %q", name)
	}
	return plugin.RunCycle(ctx, cycle)
}
