package core

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket mirrors a session's transcript to the client and accepts
// user messages on the same connection. The current transcript is sent
// first, followed by live frames.
func (s *Server) handleWebSocket(c echo.Context) error {
	sessionID := c.Param("sessionId")
	requestLogger := s.requestLogger(c, "/sessions/:sessionId/ws").WithField("sessionID", sessionID)

	hosted, exists := s.store.Get(sessionID)
	if !exists {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		requestLogger.WithError(err).Error("Failed to upgrade websocket")
		return nil
	}
	defer ws.Close()

	// Subscribe before the snapshot so nothing appended in between is lost.
	frames, unsubscribe := hosted.Handler.Subscribe()
	defer unsubscribe()

	sent := make(map[string]bool)
	for _, d := range hosted.Session.History() {
		if err := ws.WriteJSON(StreamMessage{Type: "dialog", Dialog: &d}); err != nil {
			requestLogger.WithError(err).Warn("Failed initial sync")
			return nil
		}
		sent[d.ID] = true
	}
	requestLogger.WithField("dialogs", len(sent)).Info("Websocket client attached")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pumpFrames(ws, frames, sent, requestLogger)
	}()

	for {
		var msg MessageRequest
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				requestLogger.WithError(err).Debug("Websocket read ended")
			}
			break
		}
		if msg.Message == "" {
			continue
		}
		if hosted.Status() != StatusRunning {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errSessionNotActive.Error()), time.Now().Add(writeWait))
			break
		}
		if err := hosted.Handler.Deliver(msg.Message); err != nil {
			requestLogger.WithError(err).Warn("Dropping websocket message")
			continue
		}
		hosted.Touch()
	}

	unsubscribe()
	wg.Wait()
	return nil
}

// pumpFrames is the only writer of ws once the initial sync is done.
func (s *Server) pumpFrames(ws *websocket.Conn, frames <-chan StreamMessage, sent map[string]bool, logger *logrus.Entry) {
	for frame := range frames {
		if frame.Type == "dialog" && frame.Dialog != nil {
			if sent[frame.Dialog.ID] {
				continue
			}
			sent[frame.Dialog.ID] = true
		}
		if err := ws.WriteJSON(frame); err != nil {
			logger.WithError(err).Debug("Websocket write failed")
			return
		}
	}
}

