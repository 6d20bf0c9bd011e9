// internal/browser/pool.go
package browser

import (
	"context"
	"fmt"
)

// TabPool bounds how many tabs of one Browser are open at a time.
type TabPool struct {
	browser Browser
	slots   chan struct{}
}

// NewTabPool allows at most maxTabs concurrent tabs.
func NewTabPool(b Browser, maxTabs int) *TabPool {
	if maxTabs <= 0 {
		maxTabs = 2
	}
	return &TabPool{browser: b, slots: make(chan struct{}, maxTabs)}
}

// Do opens a tab, runs fn with it and closes it on every path, including a
// panic inside fn.
func (p *TabPool) Do(ctx context.Context, fn func(Page) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for a browser tab: %w", ctx.Err())
	}
	defer func() { <-p.slots }()

	page, err := p.browser.NewPage(ctx)
	if err != nil {
		return err
	}
	defer page.Close()

	return fn(page)
}

// InUse reports how many tabs are currently held.
func (p *TabPool) InUse() int {
	return len(p.slots)
}

// Close closes the underlying browser.
func (p *TabPool) Close() error {
	return p.browser.Close()
}
