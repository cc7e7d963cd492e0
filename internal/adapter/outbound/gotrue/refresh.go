package gotrue

import (
	"context"
	"time"

	"github.com/lookym/authgate/internal/domain/auth"
)

// dueForRefresh reports whether sess should be refreshed at now.
func (c *Client) dueForRefresh(sess *auth.Session, now time.Time) bool {
	if sess.RefreshToken == "" || sess.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(sess.ExpiresAt.Add(-c.refreshMargin))
}

// refresh exchanges stale's refresh token for a new session. If the session
// changed while waiting for another refresh, the current one is returned.
// A nil session with a nil error means the user signed out meanwhile.
func (c *Client) refresh(ctx context.Context, stale *auth.Session) (*auth.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	cur := c.snapshot()
	if cur == nil || cur.RefreshToken != stale.RefreshToken {
		return cur, nil
	}

	var resp tokenResponse
	if err := c.do(ctx, opRefresh, "/auth/v1/token?grant_type=refresh_token", "", refreshBody{stale.RefreshToken}, &resp); err != nil {
		return nil, err
	}
	g, err := grantFrom(opRefresh, &resp)
	if err != nil {
		return nil, err
	}
	if g.Session == nil {
		return nil, auth.NewError(opRefresh, auth.KindProviderFailure, "provider returned no session", nil)
	}
	c.setSession(ctx, g.Session)
	return g.Session, nil
}

func (c *Client) kickRefresh() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// nextRefresh returns how long to wait before the next refresh attempt.
func (c *Client) nextRefresh(now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sess := c.session
	if sess == nil || sess.RefreshToken == "" || sess.ExpiresAt.IsZero() {
		return 0, false
	}
	at := sess.ExpiresAt.Add(-c.refreshMargin)
	if c.retryAt.After(at) {
		at = c.retryAt
	}
	wait := at.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (c *Client) refreshLoop() {
	defer close(c.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		var fire <-chan time.Time
		if wait, ok := c.nextRefresh(time.Now()); ok {
			timer.Reset(wait)
			fire = timer.C
		}

		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-c.kick:
			timer.Stop()
		case <-fire:
			c.refreshDue()
		}
	}
}

// refreshDue runs one scheduled refresh. A rejected refresh token ends the
// session; anything else is retried after the retry interval.
func (c *Client) refreshDue() {
	sess := c.snapshot()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	_, err := c.refresh(ctx, sess)
	if err == nil {
		return
	}
	if c.ctx.Err() != nil {
		return
	}
	if sessionRejected(err) {
		c.logger.Info("session expired", "user_id", sess.User.ID, "error", err)
		c.setSession(ctx, nil)
		return
	}

	c.logger.Warn("session refresh failed, will retry", "error", err, "retry_in", c.retryInterval)
	c.mu.Lock()
	c.retryAt = time.Now().Add(c.retryInterval)
	c.mu.Unlock()
}
