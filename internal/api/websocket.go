package api

import (
	"log"
	"net/http"
	"time"

	"session-core/internal/events"
	"session-core/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watchClose reads until the peer goes away and then closes the returned channel.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

// streamSessions pushes the session list. Snapshots come from the engine's bus
// publication when a bus is wired, else from polling every ListInterval.
func (s *Server) streamSessions(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()
	gone := watchClose(conn)

	if err := writeJSON(conn, gin.H{"type": "sessions", "sessions": s.Engine.Snapshots()}); err != nil {
		return
	}

	var stream <-chan any
	if s.Bus != nil {
		ch, unsub := s.Bus.Subscribe(events.EventSessionSnapshot, 4)
		defer unsub()
		stream = ch
	}
	ticker := time.NewTicker(s.ListInterval)
	defer ticker.Stop()

	for {
		var snaps []session.Snapshot
		select {
		case <-gone:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			list, isList := msg.([]session.Snapshot)
			if !isList {
				continue
			}
			snaps = list
		case <-ticker.C:
			if stream != nil {
				continue
			}
			snaps = s.Engine.Snapshots()
		}
		if err := writeJSON(conn, gin.H{"type": "sessions", "sessions": snaps}); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

// streamSession pushes one session's detail every DetailInterval.
func (s *Server) streamSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Engine.Get(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()
	gone := watchClose(conn)

	ticker := time.NewTicker(s.DetailInterval)
	defer ticker.Stop()
	for {
		snap, err := s.Engine.Get(c.Request.Context(), id)
		if err != nil {
			_ = writeJSON(conn, gin.H{"type": "error", "error": err.Error()})
			return
		}
		if err := writeJSON(conn, gin.H{"type": "session", "session": snap}); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
		select {
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}
