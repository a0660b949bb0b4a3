package engine

import (
	"context"
	"sync"
	"time"

	"orderbridge/internal/domain"
)

// accountState is the cached account snapshot with its own lock so queries
// never wait on order flow.
type accountState struct {
	mu    sync.RWMutex
	info  domain.AccountInfo
	ready chan struct{}
	once  sync.Once
	force chan struct{}
}

func newAccountState() *accountState {
	return &accountState{
		ready: make(chan struct{}),
		force: make(chan struct{}, 1),
	}
}

func (a *accountState) get() domain.AccountInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info
}

func (a *accountState) set(info domain.AccountInfo) {
	a.mu.Lock()
	a.info = info
	a.mu.Unlock()
	a.once.Do(func() { close(a.ready) })
}

func (a *accountState) trigger() {
	select {
	case a.force <- struct{}{}:
	default:
	}
}

func (a *accountState) waitReady(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-a.ready:
		return true
	case <-t.C:
		return false
	}
}

// runAccount refreshes the snapshot at startup, on every tick and whenever
// Refresh is called.
func (e *Engine) runAccount(ctx context.Context) {
	e.refreshAccount(ctx)

	ticker := time.NewTicker(e.opts.AccountRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.acct.force:
		}
		e.refreshAccount(ctx)
	}
}

func (e *Engine) refreshAccount(ctx context.Context) {
	info, err := e.broker.GetAccount(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Warn("account refresh failed", "error", err)
		e.notes.notify(LevelWarn, "account refresh failed", "error", err.Error())
		return
	}
	e.acct.set(*info)
	e.log.Debug("account refreshed", "cash", info.Cash, "equity", info.Equity)
}
