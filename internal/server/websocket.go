package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"merchant-cohort-lab/internal/domain"
)

const (
	wsReadLimit  = 4096
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// rankingMessage answers one filter message on the ranking feed.
type rankingMessage struct {
	Filter domain.Filter `json:"filter"`
	Rows   []rankRowJSON `json:"rows,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleRankingFeed upgrades to a websocket. Each {"segment":..,"cohort":..}
// message from the client is answered with the ranking table for that filter.
func (s *Server) handleRankingFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.WSClients.Inc()
		defer s.metrics.WSClients.Dec()
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	ctx := r.Context()
	for {
		var f domain.Filter
		if err := conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) {
				return
			}
			if isJSONError(err) {
				if werr := s.writeMessage(conn, rankingMessage{Error: "invalid filter message"}); werr != nil {
					return
				}
				continue
			}
			s.log.Debug().Err(err).Msg("websocket read ended")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		msg := rankingMessage{Filter: f}
		rows, err := s.pipeline.Ranking(ctx, f)
		if err != nil {
			s.log.Error().Err(err).Msg("websocket ranking failed")
			msg.Error = "rank failed"
		} else {
			msg.Rows = toRankJSON(rows)
		}
		if err := s.writeMessage(conn, msg); err != nil {
			s.log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

// writeMessage is the only data writer; the ping loop uses WriteControl,
// which gorilla allows concurrently.
func (s *Server) writeMessage(conn *websocket.Conn, msg rankingMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}

func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func isJSONError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
