package auth

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

// Cache owns the worker's bearer credential. Reads are synchronous snapshots;
// the credential is only ever replaced as a whole by a completed refresh, and
// refreshes are serialized through a single-flight operation.
type Cache struct {
	path       string
	threshold  time.Duration
	retryDelay time.Duration
	refresher  Refresher
	log        *logger.Log
	now        func() time.Time

	mu            sync.RWMutex
	cred          *Credential
	lastRefreshed time.Time
	pending       *RefreshOp
	timer         *time.Timer
	closed        bool
}

// RefreshOp is a shareable handle to an in-flight refresh. All callers that
// request a refresh while one is running observe the same handle.
type RefreshOp struct {
	done chan struct{}
	err  error
}

// Done is closed when the refresh has finished.
func (op *RefreshOp) Done() <-chan struct{} {
	return op.done
}

// Err reports the refresh outcome. Only valid after Done is closed.
func (op *RefreshOp) Err() error {
	return op.err
}

// Wait blocks until the refresh finishes or the context is cancelled.
func (op *RefreshOp) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-op.done:
		return op.err
	}
}

func NewCache(cfg *config.Config, refresher Refresher) *Cache {
	return &Cache{
		path:       cfg.Auth.TokenPath,
		threshold:  cfg.Auth.RefreshThreshold(),
		retryDelay: cfg.Auth.RefreshRetry(),
		refresher:  refresher,
		log:        logger.GetLogger(),
		now:        time.Now,
	}
}

// Load reads the token file and replaces the cached credential. The returned
// *LoadError is fatal at startup; during a refresh reload it surfaces as a
// failed refresh instead.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return &LoadError{Path: c.path, Err: err}
	}

	token := strings.TrimSpace(string(data))
	expiresAt, err := decodeExpiry(token)
	if err != nil {
		return &LoadError{Path: c.path, Err: err}
	}

	now := c.now()
	c.mu.Lock()
	c.cred = &Credential{Token: token, ExpiresAt: expiresAt, LoadedAt: now}
	c.lastRefreshed = now
	c.mu.Unlock()

	c.log.WithComponent("auth").WithFields(logger.Fields{
		"expires_at": expiresAt.Format(time.RFC3339),
	}).Info("token loaded")
	return nil
}

// Token returns the current bearer token without blocking. When the token is
// within the renewal threshold of its expiry a background refresh is kicked
// off; the caller never waits on it and may legitimately receive a token that
// is past its ideal renewal point but still unexpired.
func (c *Cache) Token() string {
	c.mu.RLock()
	cred := c.cred
	c.mu.RUnlock()

	if cred == nil {
		return ""
	}
	if !c.now().Before(cred.ExpiresAt.Add(-c.threshold)) {
		c.Refresh()
	}
	return cred.Token
}

// Refresh starts a refresh unless one is already in flight, in which case the
// running operation's handle is returned instead of starting a second one.
func (c *Cache) Refresh() *RefreshOp {
	c.mu.Lock()
	if c.pending != nil {
		op := c.pending
		c.mu.Unlock()
		return op
	}
	op := &RefreshOp{done: make(chan struct{})}
	c.pending = op
	c.mu.Unlock()

	go c.runRefresh(op)
	return op
}

func (c *Cache) runRefresh(op *RefreshOp) {
	log := c.log.WithComponent("auth")
	log.Info("token expiring soon, refreshing")

	err := c.refresher.Refresh(context.Background())
	if err == nil {
		err = c.Load()
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("token refresh failed")
		c.armRetry()
	} else {
		logger.IncrementTokenRefresh()
		c.mu.RLock()
		expiresAt := c.cred.ExpiresAt
		c.mu.RUnlock()
		log.WithFields(logger.Fields{"expires_at": expiresAt.Format(time.RFC3339)}).Info("token refreshed")
		c.ScheduleRefresh()
	}

	op.err = err
	close(op.done)
}

// ScheduleRefresh arms a one-shot timer that fires the renewal threshold
// ahead of the current expiry. Any previously armed timer is stopped first so
// timer chains never diverge.
func (c *Cache) ScheduleRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.cred == nil {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}

	delay := c.cred.ExpiresAt.Sub(c.now()) - c.threshold
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, func() { c.Refresh() })

	c.log.WithComponent("auth").WithFields(logger.Fields{
		"next_at": c.now().Add(delay).Format(time.RFC3339),
	}).Info("next token refresh scheduled")
}

// armRetry arms the fixed fallback timer after a failed refresh.
func (c *Cache) armRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.retryDelay, func() { c.Refresh() })
}

// Expiry reports the current credential's expiry for the status endpoint.
func (c *Cache) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred == nil {
		return time.Time{}
	}
	return c.cred.ExpiresAt
}

// LastRefreshedAt reports when a credential was last successfully loaded.
func (c *Cache) LastRefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefreshed
}

// Close stops the renewal timers. In-flight refreshes are left to finish;
// nothing durable depends on them.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
