// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket bridge
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketPort carries the device line protocol over a WebSocket bridge.
//
// gorilla/websocket connections cannot recover from a read deadline, so a
// background goroutine owns ReadMessage and Read waits on it with the
// configured timeout instead.
type WebSocketPort struct {
	conn        *websocket.Conn
	readTimeout time.Duration

	frames chan []byte
	errs   chan error
	done   chan struct{}
	buf    []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool // Track if connection has failed/closed
}

func newWebSocketPort(conn *websocket.Conn, readTimeout time.Duration) *WebSocketPort {
	w := &WebSocketPort{
		conn:        conn,
		readTimeout: readTimeout,
		frames:      make(chan []byte, 64),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketPort) readLoop() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.errs <- err
			close(w.frames)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.frames <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketPort) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}
	if w.closed {
		return 0, ErrConnectionClosed
	}

	timer := time.NewTimer(w.readTimeout)
	defer timer.Stop()

	select {
	case data, ok := <-w.frames:
		if !ok {
			w.closed = true
			return 0, <-w.errs
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush is a no-op: every Write is sent as one complete frame
func (w *WebSocketPort) Flush() error {
	return nil
}

func (w *WebSocketPort) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocket dials a WebSocket bridge with optional HTTP Basic auth
func OpenWebSocket(wsURL string, opts Options) (*WebSocketPort, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.OpenTimeout,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.OpenTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketPort(conn, opts.ReadTimeout), nil
}
