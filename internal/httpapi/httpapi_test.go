// SPDX-License-Identifier: MIT

package httpapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/deskbridge/rfbgateway/internal/imagecodec"
	"github.com/deskbridge/rfbgateway/internal/registry"
)

func mockVNCServer(t *testing.T, width, height uint16) string {
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
		binary.BigEndian.PutUint16(serverInit[0:2], width)
		binary.BigEndian.PutUint16(serverInit[2:4], height)
		_, _ = c.Write(serverInit)

		_, _ = c.Read(buf[:20])
		_, _ = c.Read(buf[:12])
		_, _ = c.Read(buf[:10])

		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String()
}

func newTestRouter(t *testing.T, reg *registry.Registry) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	api := New(reg, imagecodec.StandardEncoder{})
	api.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPAPI_MoveSucceedsAgainstLiveSession(t *testing.T) {
	addr := mockVNCServer(t, 200, 100)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	reg := registry.New()
	srv := newTestRouter(t, reg)

	resp, err := http.Post(srv.URL+"/sessions/"+host+"/"+port+"/move", "application/json",
		strings.NewReader(`{"x":10,"y":20}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPAPI_ActionAgainstUnreachableUpstreamReturns503(t *testing.T) {
	reg := registry.New(registry.WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return net.Dial("tcp", "127.0.0.1:1")
	}))
	srv := newTestRouter(t, reg)

	resp, err := http.Post(srv.URL+"/sessions/127.0.0.1/1/click", "application/json",
		strings.NewReader(`{"x":1,"y":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPAPI_ScreenshotReturnsPNG(t *testing.T) {
	addr := mockVNCServer(t, 64, 48)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	reg := registry.New()
	srv := newTestRouter(t, reg)

	resp, err := http.Get(srv.URL + "/sessions/" + host + "/" + port + "/screenshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0x89, 'P', 'N', 'G'}))
}
