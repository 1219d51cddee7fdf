package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"lendvault/core/types"
)

const (
	wsWriteTimeout     = 10 * time.Second
	wsSubscribeBuffer  = 64
	wsBacklogBatchSize = 256
)

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := uint64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	updates, cancel := s.node.EventsSubscribe(wsSubscribeBuffer)
	defer cancel()

	last := cursor
	for {
		backlog, err := s.node.Events(last, wsBacklogBatchSize)
		if err != nil {
			return err
		}
		if len(backlog) == 0 {
			break
		}
		for _, event := range backlog {
			if err := writeEvent(ctx, conn, event); err != nil {
				return err
			}
			last = event.Sequence
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-updates:
			if !ok {
				return nil
			}
			if event.Sequence <= last {
				continue
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				return err
			}
			last = event.Sequence
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
