// SPDX-License-Identifier: MIT

package input

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/deskbridge/rfbgateway"
	"github.com/stretchr/testify/require"
)

// newReadySession builds a Session directly against a net.Pipe, bypassing
// the handshake, for gesture-level tests that only care about the bytes
// written after the session is Ready.
func newReadySession(t *testing.T) (*rfb.Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close() })

	sess := rfb.NewTestSession(client, rfb.NewFramebuffer(1024, 768))
	return sess, server
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	total := 0
	for total < n {
		k, err := c.Read(buf[total:])
		require.NoError(t, err)
		total += k
	}
	return buf
}

func TestSurface_ClickSequence(t *testing.T) {
	sess, server := newReadySession(t)
	surface := New(sess, nil)

	done := make(chan struct{})
	got := make(chan []byte, 2)
	go func() {
		defer close(done)
		got <- readN(t, server, 6)
		got <- readN(t, server, 6)
	}()

	ctx := context.Background()
	require.NoError(t, surface.Click(ctx, 100, 200, 1))
	<-done

	press := <-got
	release := <-got

	require.Equal(t, []byte{0x05, 0x01, 0x00, 0x64, 0x00, 0xC8}, press)
	require.Equal(t, []byte{0x05, 0x00, 0x00, 0x64, 0x00, 0xC8}, release)
}

func TestSurface_ShortcutSequence(t *testing.T) {
	sess, server := newReadySession(t)
	surface := New(sess, nil)

	var recorded [][]byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			recorded = append(recorded, readN(t, server, 8))
		}
	}()

	ctx := context.Background()
	require.NoError(t, surface.Shortcut(ctx, []string{"Control", "c"}))
	<-done

	require.Len(t, recorded, 4)

	parse := func(b []byte) (down bool, keysym uint32) {
		return b[1] != 0, binary.BigEndian.Uint32(b[4:8])
	}

	down0, sym0 := parse(recorded[0])
	require.True(t, down0)
	require.Equal(t, uint32(0xFFE3), sym0)

	down1, sym1 := parse(recorded[1])
	require.True(t, down1)
	require.Equal(t, uint32('c'), sym1)

	down2, sym2 := parse(recorded[2])
	require.False(t, down2)
	require.Equal(t, uint32('c'), sym2)

	down3, sym3 := parse(recorded[3])
	require.False(t, down3)
	require.Equal(t, uint32(0xFFE3), sym3)
}

func TestSurface_MoveClampsViaSession(t *testing.T) {
	sess, server := newReadySession(t)
	surface := New(sess, nil)

	got := make(chan []byte, 1)
	go func() {
		got <- readN(t, server, 6)
	}()

	require.NoError(t, surface.Move(context.Background(), 5000, 5000, nil))
	b := <-got
	x := binary.BigEndian.Uint16(b[2:4])
	y := binary.BigEndian.Uint16(b[4:6])
	require.Equal(t, uint16(1023), x)
	require.Equal(t, uint16(767), y)
}

func TestSurface_TextTypesCodePoints(t *testing.T) {
	sess, server := newReadySession(t)
	surface := New(sess, nil)

	var recorded [][]byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			recorded = append(recorded, readN(t, server, 8))
		}
	}()

	require.NoError(t, surface.Text(context.Background(), "ab", time.Millisecond))
	<-done

	sym := func(b []byte) uint32 { return binary.BigEndian.Uint32(b[4:8]) }
	require.Equal(t, uint32('a'), sym(recorded[0]))
	require.Equal(t, uint32('a'), sym(recorded[1]))
	require.Equal(t, uint32('b'), sym(recorded[2]))
	require.Equal(t, uint32('b'), sym(recorded[3]))
}
