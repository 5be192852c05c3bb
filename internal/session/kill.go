package session

import "collabtext/internal/store"

// RequestKill starts teardown from this participant. The kill is published
// and the room is finalized when its echo comes back, or when the kill
// timeout expires, whichever is first.
func (c *Controller) RequestKill() {
	if !c.running() {
		c.logger().Warn().Msg("kill requested on inactive session")
		return
	}
	c.loop.post(c.initiateKill)
}

func (c *Controller) initiateKill() {
	if c.state.Kill != KillIdle {
		c.log.Debug().Stringer("phase", c.state.Kill).Msg("kill already in progress")
		return
	}
	c.setState(func(s *State) {
		s.InitiatedKill = true
		s.Kill = KillInitiating
	})
	c.log.Info().Msg("kill requested")

	ctx, cancel := c.opContext()
	err := c.store.Update(ctx, c.handle, store.KillMessage())
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Msg("kill request not published")
	}
	c.notify(&c.onKilling)

	c.killTimer = c.clock.AfterFunc(c.cfg.KillTimeout, func() {
		c.loop.post(c.killTimedOut)
	})
}

// confirmKill handles the echo of our own kill.
func (c *Controller) confirmKill() {
	if c.state.Kill != KillInitiating {
		return
	}
	if c.killTimer != nil {
		c.killTimer.Stop()
	}
	c.setState(func(s *State) {
		s.ConfirmedKill = true
		s.Kill = KillConfirmed
	})
	c.log.Info().Msg("kill confirmed")
	c.finalize(true)
}

func (c *Controller) killTimedOut() {
	if c.state.Kill != KillInitiating {
		return
	}
	c.setState(func(s *State) { s.Kill = KillTimedOut })
	c.log.Warn().Dur("timeout", c.cfg.KillTimeout).Msg("kill echo not observed, finalizing")
	c.finalize(true)
}

// receiveKill handles a kill some other participant asked for. Deleting the
// channel is left to the initiator.
func (c *Controller) receiveKill() {
	c.setState(func(s *State) { s.Kill = KillFinalized })
	c.log.Info().Msg("room killed by peer")
	c.finalize(false)
}

// finalize moves to the terminal state: channel deleted if we own the
// kill, locator cleared, room detached, observers told.
func (c *Controller) finalize(remove bool) {
	if remove {
		ctx, cancel := c.opContext()
		err := c.store.Remove(ctx, c.handle)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Msg("channel not removed")
		}
	}
	if err := c.locator.SetFragment(""); err != nil {
		c.log.Warn().Err(err).Msg("locator not cleared")
	}
	c.release()
	close(c.killed)
	c.notify(&c.onKilled)
}
