package gateway

import (
	"context"

	"github.com/holdwallet/gateway/lib/logger"
)

// HandleAuthError tears down the session after an unrecoverable
// authentication failure. It is idempotent: concurrent invocations collapse
// into one notification, one credential wipe and one OnSessionExpired call.
//
// Failures inside the login grace period are ignored entirely; they are
// assumed to be races against not-yet-finished storage hydration.
func (c *Client) HandleAuthError(ctx context.Context) {
	log := logger.Get(ctx)

	if c.inGracePeriod(ctx) {
		log.Debug("Authentication failure within the login grace period, skipping logout")
		return
	}

	if !c.handlingAuthError.CompareAndSwap(false, true) {
		return
	}

	log.Warn("Session expired, clearing credentials")
	c.conf.Notifier.SessionExpired("Your session has expired. Please sign in again.")

	if err := c.resolver.Clear(ctx); err != nil {
		log.WithError(err).Warn("Failed to clear stored credentials")
	}
	if c.grace != nil {
		if err := c.grace.ClearLoginMark(ctx); err != nil {
			log.WithError(err).Warn("Failed to clear the login marker")
		}
	}

	// Give the notification a moment to be read before yanking the user to
	// the login entry point.
	go func() {
		<-c.conf.Clock.After(c.conf.LogoutDelay)
		c.handlingAuthError.Store(false)
		if c.conf.OnSessionExpired != nil {
			c.conf.OnSessionExpired()
		}
	}()
}

func (c *Client) inGracePeriod(ctx context.Context) bool {
	if c.grace == nil {
		return false
	}
	loginTime, err := c.grace.LoginTime(ctx)
	if err != nil {
		return false
	}
	return c.conf.Clock.Now().Sub(loginTime) < c.conf.GracePeriod
}
