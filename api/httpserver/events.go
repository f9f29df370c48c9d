package httpserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudx-io/reserveauction/events"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// streamEvents upgrades to a websocket and forwards every engine event as a
// JSON text frame until the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.Error(w, "event feed disabled", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARNING: Event stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	feed, cancel := s.feed.Subscribe()
	defer cancel()

	// The read loop only services control frames and notices disconnects.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("INFO: Event stream closed: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// auctionEvents lists the stored events of one token, oldest first.
func (s *Server) auctionEvents(w http.ResponseWriter, r *http.Request) {
	const reqType = "events"
	if s.history == nil {
		http.Error(w, "event history disabled", http.StatusNotFound)
		return
	}
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	evs, err := s.history.ListByToken(r.Context(), uint64(tokenID))
	if err != nil {
		log.Printf("ERROR: Failed to list events for token %d: %v", tokenID, err)
		writeError(w, reqType, fmt.Errorf("event history unavailable: %w", err))
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(evs); err != nil {
		log.Printf("ERROR: Failed to encode events: %v", err)
	}
}
