// SPDX-License-Identifier: MIT

package broadcast

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/deskbridge/rfbgateway"
	"github.com/deskbridge/rfbgateway/internal/imagecodec"
	"github.com/stretchr/testify/require"
)

var errSendFailed = errors.New("send failed")

type fakeSubscriber struct {
	id string

	mu       sync.Mutex
	messages []Message
	fail     bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errSendFailed
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSubscriber) snapshot() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func newTestSession(t *testing.T, width, height uint16) *rfb.Session {
	t.Helper()
	_, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return rfb.NewTestSession(client, rfb.NewFramebuffer(width, height))
}

func TestBroadcaster_CoalescesDirtyRectsIntoOneUpdate(t *testing.T) {
	sess := newTestSession(t, 100, 100)
	fb := sess.Framebuffer()

	b := New(sess, imagecodec.StandardEncoder{}, WithInterval(10*time.Millisecond))

	sub := &fakeSubscriber{id: "sub-1"}
	b.Attach(sub)

	require.NoError(t, fb.Paste(rfb.Rect{X: 0, Y: 0, W: 10, H: 10}, make([]byte, 10*10*3)))
	require.NoError(t, fb.Paste(rfb.Rect{X: 20, Y: 30, W: 5, H: 5}, make([]byte, 5*5*3)))

	require.Eventually(t, func() bool {
		for _, m := range sub.snapshot() {
			if m.Type == "update" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	var update Message
	for _, m := range sub.snapshot() {
		if m.Type == "update" {
			update = m
			break
		}
	}
	require.Equal(t, 0, update.X)
	require.Equal(t, 0, update.Y)
}

func TestBroadcaster_DropsFailingSubscriberWithoutStoppingOthers(t *testing.T) {
	sess := newTestSession(t, 50, 50)
	fb := sess.Framebuffer()

	b := New(sess, imagecodec.StandardEncoder{}, WithInterval(10*time.Millisecond))

	good := &fakeSubscriber{id: "good"}
	bad := &fakeSubscriber{id: "bad", fail: true}

	b.Attach(good)
	b.Attach(bad)

	require.NoError(t, fb.Paste(rfb.Rect{X: 0, Y: 0, W: 5, H: 5}, make([]byte, 5*5*3)))

	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	found := false
	for _, m := range good.snapshot() {
		if m.Type == "update" {
			found = true
		}
	}
	require.True(t, found)
}

func TestBroadcaster_ExitsWhenSubscriberSetEmpties(t *testing.T) {
	sess := newTestSession(t, 50, 50)

	var onEmptyCalled bool
	var mu sync.Mutex
	b := New(sess, imagecodec.StandardEncoder{}, WithInterval(5*time.Millisecond), WithOnEmpty(func() {
		mu.Lock()
		onEmptyCalled = true
		mu.Unlock()
	}))

	sub := &fakeSubscriber{id: "only"}
	b.Attach(sub)
	b.Detach(sub.ID())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return onEmptyCalled
	}, time.Second, 5*time.Millisecond)
}
