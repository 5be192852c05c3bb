package session

import "collabtext/internal/store"

// ChangeMode is a local user's mode change. Repeating the current mode is
// a no-op, so a peer only ever sees one write per distinct change.
func (c *Controller) ChangeMode(mode string) {
	if !c.running() {
		c.logger().Warn().Str("mode", mode).Msg("mode change on inactive session")
		return
	}
	c.loop.post(func() { c.changeMode(mode) })
}

func (c *Controller) changeMode(mode string) {
	switch {
	case c.state.Kill.Terminal():
		c.log.Debug().Str("mode", mode).Msg("mode change after teardown")
		return
	case mode == "":
		c.log.Warn().Msg("ignoring empty mode")
		return
	case mode == c.state.Mode:
		c.log.Debug().Str("mode", mode).Msg("mode unchanged")
		return
	}
	c.setState(func(s *State) {
		s.Mode = mode
		s.ModeSource = ModeLocal
	})
	c.announce(mode)
	c.notifyMode(mode)
}

// announce publishes the mode. Nothing confirms it; a lost write is covered
// by the creator's liveness fallback or by the next change.
func (c *Controller) announce(mode string) {
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.store.Update(ctx, c.handle, store.ModeMessage(mode)); err != nil {
		c.log.Warn().Err(err).Str("mode", mode).Msg("mode announcement not published")
		return
	}
	c.log.Debug().Str("mode", mode).Msg("mode announced")
}

// adopt applies a peer's mode without publishing it again.
// Our own echo, or a peer repeating the current mode, changes nothing and
// keeps the mode's source.
func (c *Controller) adopt(mode string) {
	if mode == c.state.Mode {
		return
	}
	c.setState(func(s *State) {
		s.Mode = mode
		s.ModeSource = ModeRemote
	})
	c.log.Info().Str("mode", mode).Msg("adopted mode")
	c.notifyMode(mode)
}

// armLiveness re-announces the creator's mode once if nothing at all has
// been heard on the channel by the end of the window.
func (c *Controller) armLiveness() {
	c.liveness = c.clock.AfterFunc(c.cfg.LivenessWindow, func() {
		c.loop.post(c.livenessExpired)
	})
}

func (c *Controller) livenessExpired() {
	if c.state.Kill != KillIdle || c.state.ReceivedAny {
		return
	}
	c.log.Info().Str("mode", c.state.Mode).Msg("no channel traffic, re-announcing mode")
	c.announce(c.state.Mode)
}
