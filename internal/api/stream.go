package api

import (
	"net/http"
	"strings"
	"time"

	"courseframework/pkg/eventbus"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEventStream upgrades to a websocket and forwards bus events of the
// requested types as JSON messages. Only events the caller may see are
// sent, and only system admins may stream every type. Slow clients lose
// events rather than blocking the bus.
func (s *Server) handleEventStream(c echo.Context) error {
	actx := accessContext(c)
	if actx.IsAnonymous() {
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}

	types := parseTypes(c.QueryParam("types"))
	if types[0] == eventbus.AllEvents && !actx.IsSystemAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "streaming all event types requires a system admin")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	events := make(chan eventbus.Event, streamBuffer)
	forward := eventbus.Func(func(e eventbus.Event) error {
		if !s.host.Visible(actx, e) {
			return nil
		}
		select {
		case events <- e:
		default:
			s.logger.Warn("Dropping event for slow stream client", zap.String("type", e.Type))
		}
		return nil
	})

	bus := s.host.Bus()
	for _, t := range types {
		if err := bus.On(t, forward); err != nil {
			s.logger.Error("Failed to subscribe stream", zap.String("type", t), zap.Error(err))
			return nil
		}
	}
	defer func() {
		for _, t := range types {
			bus.Off(t, forward)
		}
	}()

	s.logger.Info("Event stream opened",
		zap.Strings("types", types),
		zap.String("role", string(actx.Role)))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("Event stream write failed", zap.Error(err))
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			s.logger.Info("Event stream closed")
			return nil
		}
	}
}

func parseTypes(raw string) []string {
	if raw == "" {
		return []string{eventbus.AllEvents}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if t == eventbus.AllEvents {
			return []string{eventbus.AllEvents}
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return []string{eventbus.AllEvents}
	}
	return out
}
