// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// WebSocketServer hands one programmer connection at a time to Session.
// While a session is running, further upgrade requests get 409 Conflict.
type WebSocketServer struct {
	// Username and Password enable HTTP Basic auth when Username is set
	Username string
	Password string

	// Session runs a connection until it fails or ctx ends
	Session func(ctx context.Context, conn Connection, remote string)

	ctx      context.Context
	busy     atomic.Bool
	upgrader websocket.Upgrader
}

func (s *WebSocketServer) authorized(r *http.Request) bool {
	if s.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.Password)) == 1
	return userOK && passOK
}

// ServeHTTP implements http.Handler
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="perihelion"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !s.busy.CompareAndSwap(false, true) {
		http.Error(w, "a programmer is already connected", http.StatusConflict)
		return
	}
	defer s.busy.Store(false)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	ws := newWebSocketConnection(conn)
	defer ws.Close()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	glog.Infof("programmer connected from %s", r.RemoteAddr)
	s.Session(ctx, ws, r.RemoteAddr)
	glog.Infof("programmer %s disconnected", r.RemoteAddr)
}

// ListenAndServe serves WebSocket sessions on addr until ctx ends
func (s *WebSocketServer) ListenAndServe(ctx context.Context, addr string) error {
	s.ctx = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
