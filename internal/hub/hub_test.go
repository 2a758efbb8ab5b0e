// SPDX-License-Identifier: MIT

package hub

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/deskbridge/rfbgateway/internal/imagecodec"
	"github.com/deskbridge/rfbgateway/internal/registry"
)

// mockVNCServer accepts a single connection and plays the minimal RFB
// handshake scenario from spec scenario 1, then idles.
func mockVNCServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		buf := make([]byte, 4096)
		_, _ = c.Write([]byte("RFB 003.008\n"))
		_, _ = c.Read(buf[:12])

		_, _ = c.Write([]byte{0x01, 0x01})
		_, _ = c.Read(buf[:1])

		_, _ = c.Write([]byte{0x00, 0x00, 0x00, 0x00})
		_, _ = c.Read(buf[:1])

		serverInit := make([]byte, 24)
		serverInit[1] = 0x40 // width 64
		serverInit[3] = 0x30 // height 48
		_, _ = c.Write(serverInit)

		_, _ = c.Read(buf[:20]) // SetPixelFormat
		_, _ = c.Read(buf[:16]) // SetEncodings
		_, _ = c.Read(buf[:10]) // initial FramebufferUpdateRequest

		// idle: keep reading incremental update requests forever
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String()
}

func TestHub_ServeUpgradesAndSendsConnected(t *testing.T) {
	addr := mockVNCServer(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	reg := registry.New()
	h := New(reg, imagecodec.StandardEncoder{})

	router := mux.NewRouter()
	router.HandleFunc("/sessions/{host}/{port}/ws", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		h.Serve(w, r, vars["host"], vars["port"])
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + host + "/" + port + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "connected", msg["type"])
	require.Equal(t, float64(64), msg["width"])
	require.Equal(t, float64(48), msg["height"])
}

func TestHub_ServeOnUnreachableUpstreamSendsError(t *testing.T) {
	reg := registry.New(registry.WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return net.Dial("tcp", "127.0.0.1:1") // nothing listens here
	}))
	h := New(reg, imagecodec.StandardEncoder{})

	router := mux.NewRouter()
	router.HandleFunc("/sessions/{host}/{port}/ws", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		h.Serve(w, r, vars["host"], vars["port"])
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/127.0.0.1/1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "error", msg["type"])
	require.Equal(t, "VNC connection failed", msg["message"])
}
