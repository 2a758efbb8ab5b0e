// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func mockUpstream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneHandshake(c)
		}
	}()

	return ln.Addr().String()
}

func serveOneHandshake(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 4096)

	_, _ = c.Write([]byte("RFB 003.008\n"))
	_, _ = c.Read(buf[:12])

	_, _ = c.Write([]byte{0x01, 0x01})
	_, _ = c.Read(buf[:1])

	_, _ = c.Write([]byte{0x00, 0x00, 0x00, 0x00})
	_, _ = c.Read(buf[:1])

	serverInit := make([]byte, 24)
	binary.BigEndian.PutUint16(serverInit[0:2], 320)
	binary.BigEndian.PutUint16(serverInit[2:4], 240)
	_, _ = c.Write(serverInit)

	_, _ = c.Read(buf[:20])
	_, _ = c.Read(buf[:12])
	_, _ = c.Read(buf[:10])

	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

func testDialer(addr string) Dialer {
	return func(ctx context.Context, network, _ string) (net.Conn, error) {
		return net.Dial(network, addr)
	}
}

func TestRegistry_GetOrCreateInsertsOnSuccess(t *testing.T) {
	addr := mockUpstream(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	reg := New(WithDialer(testDialer(addr)))

	sess, err := reg.GetOrCreate(context.Background(), host, port)
	require.NoError(t, err)
	require.NotNil(t, sess)

	again, ok := reg.Lookup(host, port)
	require.True(t, ok)
	require.Same(t, sess, again)
}

func TestRegistry_GetOrCreateFailureDoesNotInsert(t *testing.T) {
	reg := New(WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return net.Dial("tcp", "127.0.0.1:1")
	}))

	_, err := reg.GetOrCreate(context.Background(), "dead", "5900")
	require.Error(t, err)

	_, ok := reg.Lookup("dead", "5900")
	require.False(t, ok)
}

func TestRegistry_ConcurrentGetOrCreateDialsOnce(t *testing.T) {
	addr := mockUpstream(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	var dialCount int32
	var mu sync.Mutex
	reg := New(WithDialer(func(ctx context.Context, network, _ string) (net.Conn, error) {
		mu.Lock()
		dialCount++
		mu.Unlock()
		return net.Dial(network, addr)
	}))

	const n = 10
	var wg sync.WaitGroup
	sessions := make([]interface{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := reg.GetOrCreate(context.Background(), host, port)
			require.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, sessions[0], sessions[i])
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, int32(1), dialCount)
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	addr := mockUpstream(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	reg := New(WithDialer(testDialer(addr)))

	sess, err := reg.GetOrCreate(context.Background(), host, port)
	require.NoError(t, err)

	reg.Release(host, port)
	_, ok := reg.Lookup(host, port)
	require.False(t, ok)

	// second release is a no-op, not a double-close panic
	reg.Release(host, port)

	require.Equal(t, "closed", sess.State().String())
}
