package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crane-go/pkg/log"
	"crane-go/pkg/reactor"
	"crane-go/pkg/session"
)

const (
	sendBuffer     = 64
	maxMessageSize = 64 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

// wsSink names websocket deliveries in metrics.
const wsSink = "websocket"

// wsClient is one websocket connection and the session it owns.
type wsClient struct {
	conn    *websocket.Conn
	server  *Server
	session *session.Session
	logger  *log.Logger
	pump    *reactor.Timer

	sendCh chan session.Snapshot
	done   chan struct{}
	once   sync.Once
}

func (s *Server) newWSClient(conn *websocket.Conn, sess *session.Session) *wsClient {
	return &wsClient{
		conn:    conn,
		server:  s,
		session: sess,
		logger:  s.logger.With(log.Fields{"session": sess.ID()}),
		sendCh:  make(chan session.Snapshot, sendBuffer),
		done:    make(chan struct{}),
	}
}

// Send queues a snapshot, dropping it when the client is not keeping up.
// It never blocks, so it is safe on the motion tick.
func (c *wsClient) Send(snap session.Snapshot) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- snap:
	case <-c.done:
	default:
		c.server.metrics.PublishFailed(wsSink)
		c.logger.Debug("dropping snapshot (send buffer full)")
	}
}

// Close stops the write pump, which says goodbye and closes the connection.
// The read pump then fails and tears the session down.
func (c *wsClient) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) onSnapshot(_ string, snap session.Snapshot) {
	c.Send(snap)
}

// pollSnapshot is the reactor timer callback of the snapshot pump.
func (c *wsClient) pollSnapshot(eventtime float64) float64 {
	select {
	case <-c.done:
		return reactor.NEVER
	default:
	}
	c.Send(c.session.Snapshot())
	return eventtime + c.server.cfg.SnapshotInterval.Seconds()
}

// readPump reads client messages until the connection closes.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("websocket read error")
			}
			return
		}

		resp := c.session.HandleMessage(message)
		c.server.metrics.MessageReceived(resp.Success)
		c.Send(resp)
	}
}

// writePump writes queued snapshots and keeps the connection alive.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case snap := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(snap); err != nil {
				c.logger.WithError(err).Debug("websocket write error")
				return
			}
			c.server.metrics.SnapshotSent(wsSink)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

// handleWebSocket upgrades the connection and runs its session until the
// client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess, err := s.newSession()
	if err != nil {
		s.logger.WithError(err).Error("creating session")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		conn.Close()
		return
	}

	c := s.newWSClient(conn, sess)
	if !s.addClient(c) {
		sess.Close()
		conn.Close()
		return
	}
	s.safety.Register(sess.ID(), sess.Controller())
	s.metrics.SessionOpened()
	c.logger.Info("client connected from %s", r.RemoteAddr)

	sess.Subscribe(c.onSnapshot)
	if s.cfg.Publisher != nil {
		sess.Subscribe(s.cfg.Publisher.Listen)
	}

	c.Send(sess.Snapshot())
	c.pump = s.reactor.RegisterTimer(c.pollSnapshot, s.reactor.Monotonic()+s.cfg.SnapshotInterval.Seconds())

	go c.writePump()
	c.readPump()

	s.reactor.UnregisterTimer(c.pump)
	c.Close()
	s.safety.Unregister(sess.ID())
	sess.Close()
	s.removeClient(c)
	s.metrics.SessionClosed()
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Forget(sess.ID())
	}
	c.logger.Info("client disconnected")
}
