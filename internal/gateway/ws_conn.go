package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// wsListener is one WebSocket participant of a session.
type wsListener struct {
	ws            *websocket.Conn
	sessionID     string
	participantID string
	logger        *slog.Logger

	send   chan *Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newWSListener(ws *websocket.Conn, logger *slog.Logger) *wsListener {
	return &wsListener{
		ws:     ws,
		logger: logger,
		send:   make(chan *Event, 256),
		done:   make(chan struct{}),
	}
}

// Send queues an event for the write pump. A slow consumer loses events
// rather than stalling the pipeline.
func (l *wsListener) Send(ev *Event) {
	select {
	case <-l.done:
	case l.send <- ev:
	default:
		l.logger.Warn("send buffer full, dropping event", "type", ev.Type)
	}
}

func (l *wsListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	if l.ws == nil {
		return nil
	}
	return l.ws.Close()
}

func (l *wsListener) Done() <-chan struct{} {
	return l.done
}

// readPump delivers inbound events to the handler until the peer goes
// away. It runs on the request goroutine.
func (l *wsListener) readPump(handle func(*Event)) {
	defer l.Close()

	l.ws.SetReadLimit(maxMessageSize)
	l.ws.SetReadDeadline(time.Now().Add(pongWait))
	l.ws.SetPongHandler(func(string) error {
		l.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l.logger.Error("read error", "error", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			l.logger.Error("unmarshal error", "error", err)
			l.Send(errorEvent(l.sessionID, "invalid_event", "malformed event JSON"))
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}

		handle(&ev)
	}
}

func (l *wsListener) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			l.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case ev := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(ev)
			if err != nil {
				l.logger.Error("marshal error", "error", err)
				continue
			}

			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				l.logger.Error("write error", "error", err)
				return
			}

		case <-ticker.C:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
