package tutor

import (
	"context"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/i18n"
	"github.com/vango-go/shikkha/pkg/live/session"
)

// OnLiveState registers fn to receive live session snapshots.
func (c *Controller) OnLiveState(fn func(session.LiveState)) {
	c.mu.Lock()
	c.onLive = fn
	c.mu.Unlock()
}

// LiveState returns the current live session snapshot.
func (c *Controller) LiveState() session.LiveState {
	return c.cfg.Sessions.State()
}

// StartLive opens a live voice session on the current subject, replacing any
// session already running. Device failures raise the microphone alert;
// credential failures raise the API key alert.
func (c *Controller) StartLive(ctx context.Context) error {
	if _, err := c.requireGateway(); err != nil {
		return err
	}
	key, ok := c.creds.Key()
	if !ok {
		return core.NewCredentialError("API key required", nil)
	}

	cfg := c.cfg.Live
	cfg.APIKey = key
	cfg.Subject = c.Subject()
	cfg.OnAuthError = c.authFailed
	cfg.OnStateChange = c.emitLive
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}

	if _, err := c.cfg.Sessions.Start(ctx, cfg); err != nil {
		if core.IsType(err, core.ErrDevice) {
			c.alert(i18n.MicError)
		}
		c.logger.Warn("live session did not start", "error", err)
		return err
	}
	return nil
}

// StopLive ends the live session, if any.
func (c *Controller) StopLive() {
	c.cfg.Sessions.Stop()
}

func (c *Controller) emitLive(st session.LiveState) {
	c.mu.Lock()
	fn := c.onLive
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
