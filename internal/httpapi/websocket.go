package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 1 << 20
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleMessagesWS serves one turn per inbound text frame and answers each
// with exactly one reply frame, in order.
func (s *Server) handleMessagesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ActiveSockets.Inc()
		defer s.metrics.ActiveSockets.Dec()
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		s.countWS("inbound", "message")

		var out messageResponse
		var in messageRequest
		if err := json.Unmarshal(data, &in); err != nil {
			out = messageResponse{Error: err.Error(), Code: "invalid_client_message"}
		} else {
			res, turnErr := s.conversations.HandleTurn(ctx, in.toRequest())
			_, out = turnResponse(res, turnErr)
		}

		frameType := "reply"
		if out.Code != "" {
			frameType = out.Code
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(out); err != nil {
			s.logger.Debugf("websocket write failed: %v", err)
			return
		}
		s.countWS("outbound", frameType)
	}
}

func (s *Server) countWS(direction, kind string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, kind).Inc()
	}
}
