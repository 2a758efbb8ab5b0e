// SPDX-License-Identifier: MIT

// Package input translates high-level gesture calls (move, click, drag,
// type, shortcut) into the PointerEvent/KeyEvent sequences an rfb.Session
// sends upstream, including the inter-event delays real remote desktops
// expect.
package input

import (
	"context"
	"time"

	"github.com/deskbridge/rfbgateway"
)

const (
	clickHoldDelay = 50 * time.Millisecond
	dragStartDelay = 100 * time.Millisecond
	shortcutGap    = 50 * time.Millisecond
)

// namedKeys maps the gateway's named keys to X11 keysyms. Other
// single-character names fall back to their Unicode code point.
var namedKeys = map[string]uint32{
	"Backspace":  0xFF08,
	"Tab":        0xFF09,
	"Enter":      0xFF0D,
	"Escape":     0xFF1B,
	"Delete":     0xFFFF,
	"Home":       0xFF50,
	"ArrowLeft":  0xFF51,
	"ArrowUp":    0xFF52,
	"ArrowRight": 0xFF53,
	"ArrowDown":  0xFF54,
	"PageUp":     0xFF55,
	"PageDown":   0xFF56,
	"End":        0xFF57,
	"Control":    0xFFE3,
	"Shift":      0xFFE1,
	"Alt":        0xFFE9,
	"Meta":       0xFFEB,
	"CapsLock":   0xFFE5,
}

// Surface wraps an rfb.Session with the gesture-level input API. Every
// method no-ops silently if the session is not Ready, matching the
// session's own PointerEvent/KeyEvent no-op behavior.
type Surface struct {
	session *rfb.Session
	logger  rfb.Logger
}

// New wraps an rfb.Session in an input Surface. logger may be nil, in
// which case warnings (e.g. unmapped key names) are discarded.
func New(session *rfb.Session, logger rfb.Logger) *Surface {
	if logger == nil {
		logger = &rfb.NoOpLogger{}
	}
	return &Surface{session: session, logger: logger}
}

// Size returns the underlying session's current framebuffer dimensions.
func (s *Surface) Size() (width, height uint16) {
	return s.session.Size()
}

// Move sends a PointerEvent at (x,y) using the session's current button
// mask, or the given override mask when present. An override mask also
// becomes the session's stored mask for subsequent Move calls.
func (s *Surface) Move(ctx context.Context, x, y uint16, overrideMask *rfb.ButtonMask) error {
	mask := s.session.CurrentButtonMask()
	if overrideMask != nil {
		mask = *overrideMask
	}
	return s.session.PointerEvent(ctx, mask, x, y)
}

// Click presses and releases a single button at (x,y), 50ms apart.
func (s *Surface) Click(ctx context.Context, x, y uint16, button int) error {
	mask := buttonMaskFor(button)
	if err := s.session.PointerEvent(ctx, mask, x, y); err != nil {
		return err
	}
	sleep(ctx, clickHoldDelay)
	return s.session.PointerEvent(ctx, 0, x, y)
}

// Scroll is a Click at (x,y) with button 4 (up) or 5 (down).
func (s *Surface) Scroll(ctx context.Context, x, y uint16, direction string) error {
	button := 5
	if direction == "up" {
		button = 4
	}
	return s.Click(ctx, x, y, button)
}

// Drag presses at start, waits 100ms, interpolates linearly toward end in
// max(1, delay/50ms) steps with the button held, then releases at end.
func (s *Surface) Drag(ctx context.Context, startX, startY, endX, endY uint16, button int, delay time.Duration) error {
	mask := buttonMaskFor(button)

	if err := s.session.PointerEvent(ctx, mask, startX, startY); err != nil {
		return err
	}
	sleep(ctx, dragStartDelay)

	steps := int(delay / clickHoldDelay)
	if steps < 1 {
		steps = 1
	}
	stepDelay := delay / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		x := interpolate(startX, endX, frac)
		y := interpolate(startY, endY, frac)
		if err := s.session.PointerEvent(ctx, mask, x, y); err != nil {
			return err
		}
		sleep(ctx, stepDelay)
	}

	return s.session.PointerEvent(ctx, 0, endX, endY)
}

func interpolate(start, end uint16, frac float64) uint16 {
	v := float64(start) + (float64(end)-float64(start))*frac
	if v < 0 {
		return 0
	}
	return uint16(v)
}

// Text types str one character at a time: key-down then key-up, delay/2
// apart. The keysym for a single-character rune is its code point.
func (s *Surface) Text(ctx context.Context, str string, delay time.Duration) error {
	half := delay / 2
	for _, r := range str {
		keysym := uint32(r)
		if err := s.session.KeyEvent(ctx, keysym, true); err != nil {
			return err
		}
		sleep(ctx, half)
		if err := s.session.KeyEvent(ctx, keysym, false); err != nil {
			return err
		}
		sleep(ctx, half)
	}
	return nil
}

// Shortcut presses each key in keys in order (50ms apart), then releases
// them in reverse order (50ms apart).
func (s *Surface) Shortcut(ctx context.Context, keys []string) error {
	pressed := make([]uint32, 0, len(keys))
	for _, name := range keys {
		keysym, ok := s.resolveKey(name)
		if !ok {
			continue
		}
		if err := s.session.KeyEvent(ctx, keysym, true); err != nil {
			return err
		}
		pressed = append(pressed, keysym)
		sleep(ctx, shortcutGap)
	}
	for i := len(pressed) - 1; i >= 0; i-- {
		if err := s.session.KeyEvent(ctx, pressed[i], false); err != nil {
			return err
		}
		sleep(ctx, shortcutGap)
	}
	return nil
}

// SendKeyEvent maps a named key to its X11 keysym (falling back to the
// rune's code point for single-character names) and sends a KeyEvent.
// Unmapped multi-character names are dropped with a warning.
func (s *Surface) SendKeyEvent(ctx context.Context, key string, down bool) error {
	keysym, ok := s.resolveKey(key)
	if !ok {
		s.logger.Warn("dropping unmapped key name", rfb.Field{Key: "key", Value: key})
		return nil
	}
	return s.session.KeyEvent(ctx, keysym, down)
}

func (s *Surface) resolveKey(name string) (uint32, bool) {
	if keysym, ok := namedKeys[name]; ok {
		return keysym, true
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return uint32(runes[0]), true
	}
	return 0, false
}

func buttonMaskFor(button int) rfb.ButtonMask {
	if button < 1 {
		return 0
	}
	return rfb.ButtonMask(1 << uint(button-1))
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
