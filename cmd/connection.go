// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// passwordEnv holds the WebSocket password so it stays out of shell history
const passwordEnv = "PERIHELION_PASSWORD"

// dtrPulseWidth is how long DTR is held low to reset a part. Auto-reset
// circuits couple DTR through a capacitor, so a short pulse is enough.
const dtrPulseWidth = 50 * time.Millisecond

// Connection is the raw byte link between a programmer and a loader
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned once the link has failed or the peer hung
// up. The underlying error is included in the message.
var ErrConnectionClosed = errors.New("link closed")

// SerialConnection is a UART link to a part
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// PulseDTR drops DTR for width, restarting boards whose reset line follows
// it. The part comes back up in the loader's entry window.
func (s *SerialConnection) PulseDTR(width time.Duration) error {
	if err := s.port.SetDTR(false); err != nil {
		return fmt.Errorf("failed to drop DTR: %v", err)
	}
	time.Sleep(width)
	if err := s.port.SetDTR(true); err != nil {
		return fmt.Errorf("failed to raise DTR: %v", err)
	}
	return nil
}

// WebSocketConnection carries loader bytes in binary WebSocket frames. Each
// Write is one frame; reads hand out frame contents across calls.
type WebSocketConnection struct {
	conn      *websocket.Conn
	pending   []byte
	err       error
	closeOnce sync.Once
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	return &WebSocketConnection{conn: conn}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		if w.err != nil {
			return 0, w.err
		}
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			return 0, w.err
		}
		// Text frames are not part of the byte stream
		if kind == websocket.BinaryMessage {
			w.pending = data
		}
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return len(p), nil
}

// Close sends a normal closure frame and closes the socket
func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}

// OpenSerialConnection opens a UART at 8N1. Bytes the driver queued before
// the port was opened are discarded so they cannot be taken for answers.
// With pulseDTR the part is reset into its entry window.
func OpenSerialConnection(portName string, baudRate int, pulseDTR bool) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush %s: %v", portName, err)
	}

	conn := &SerialConnection{port: port}
	if pulseDTR {
		if err := conn.PulseDTR(dtrPulseWidth); err != nil {
			port.Close()
			return nil, err
		}
	}
	return conn, nil
}

// wsDialOptions configures OpenWebSocketConnection
type wsDialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
}

// OpenWebSocketConnection dials a loader bridge or a serve --listen endpoint
func OpenWebSocketConnection(rawURL string, opts wsDialOptions) (Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	switch u.Scheme {
	case "ws":
	case "wss":
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipSSLVerify}
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	headers := http.Header{}
	if opts.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}
	return newWebSocketConnection(conn), nil
}

// GetPassword reads the WebSocket password from PERIHELION_PASSWORD, or
// asks for it on the terminal without echo
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		return string(pw), nil
	}

	// Piped input
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read password: %v", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the host side link selected by the root flags
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		opts := wsDialOptions{Username: wsUsername, SkipSSLVerify: wsNoSSLVerify}
		if wsUsername != "" {
			pw, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			opts.Password = pw
		}
		conn, err := OpenWebSocketConnection(wsURL, opts)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil

	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate, dtrReset)
		if err != nil {
			return nil, "", err
		}
		info := fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
		if dtrReset {
			info += " (DTR reset)"
		}
		return conn, info, nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
