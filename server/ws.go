package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ragrelay/ragrelay/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// handleWebSocket relays the same event stream as the SSE endpoint over a
// websocket. Each client message is one chat request; each pipeline event
// goes back as one JSON frame.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugw("websocket closed", "error", err)
			}
			return nil
		}

		var req models.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if writeErr := conn.WriteJSON(models.StreamEvent{Err: "invalid request"}); writeErr != nil {
				return nil
			}
			continue
		}

		for ev := range s.agent.Answer(ctx, req) {
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
			if ev.Token != "" {
				tokensStreamed.Inc()
			}
		}
	}
}
