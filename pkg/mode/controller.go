package mode

import "github.com/menta2k/cropflow/pkg/types"

// Token stamps a detection request. A response is applied only while its
// token is still current.
type Token struct {
	Generation uint64
}

// Controller is the Auto/Manual state machine. It starts in Auto.
// Controller is not safe for concurrent use; the session serializes access.
type Controller struct {
	mode       types.Mode
	generation uint64
}

// New returns a controller in Auto mode
func New() *Controller {
	return &Controller{mode: types.ModeAuto}
}

// Mode returns the current mode
func (c *Controller) Mode() types.Mode {
	return c.mode
}

// Reset returns to Auto for a new session and invalidates every token
// issued so far
func (c *Controller) Reset() {
	c.mode = types.ModeAuto
	c.generation++
}

// Begin issues a token for a detection request under the current generation
func (c *Controller) Begin() Token {
	return c.current()
}

// Toggle flips the mode and invalidates outstanding tokens. When the new
// mode is Auto, detect is true and token stamps the re-detection request.
func (c *Controller) Toggle() (next types.Mode, token Token, detect bool) {
	c.generation++
	if c.mode == types.ModeAuto {
		c.mode = types.ModeManual
		return c.mode, Token{}, false
	}
	c.mode = types.ModeAuto
	return c.mode, c.current(), true
}

// Invalidate makes every outstanding token stale without changing mode
func (c *Controller) Invalidate() {
	c.generation++
}

// Accept reports whether a detection result stamped with token may be
// applied: the mode must still be Auto and no toggle or reset may have
// happened since the token was issued.
func (c *Controller) Accept(token Token) bool {
	return c.mode == types.ModeAuto && token.Generation == c.generation
}

func (c *Controller) current() Token {
	return Token{Generation: c.generation}
}
