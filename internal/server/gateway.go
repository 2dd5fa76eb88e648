package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coffersTech/logstore/internal/ingest"
	"github.com/coffersTech/logstore/internal/metrics"
	"github.com/coffersTech/logstore/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrAdmissionRejected is returned when a peer outside the allow-list tries to connect.
var ErrAdmissionRejected = errors.New("admission rejected")

// FrameTypeErrorMessage is the ack payload for a non-binary frame.
const FrameTypeErrorMessage = "Expected Binary Message, Got text"

const (
	transportWS = "ws"

	maxMessageSize = 1 << 20
	writeWait      = 10 * time.Second
)

// admit checks the peer IP against the allow-list. An IPv4-mapped IPv6 address
// matches its IPv4 form.
func (s *Server) admit(remoteIP string) error {
	ip := net.ParseIP(remoteIP)
	if ip == nil || !ip.Equal(s.allowed) {
		return fmt.Errorf("%w: peer %s", ErrAdmissionRejected, remoteIP)
	}
	return nil
}

// handleWS serves GET /ws. Each connection is read by one goroutine, and every
// inbound frame gets exactly one ack before the next frame is read.
func (s *Server) handleWS(c *gin.Context) {
	remote := c.RemoteIP()
	if err := s.admit(remote); err != nil {
		s.metrics.AdmissionsRejected.Inc()
		s.logger.WithError(err).Warn("Connection rejected")
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).WithField("remote", remote).Warn("Failed to upgrade the websocket")
		return
	}

	id := uuid.NewString()
	logger := s.logger.WithFields(logrus.Fields{"conn_id": id, "remote": remote})
	if !s.track(ws) {
		ws.Close()
		return
	}
	defer s.untrack(ws)

	s.registry.Register(registry.Connection{ID: id, RemoteAddr: remote, Transport: transportWS})
	s.metrics.ActiveConnections.Inc()
	logger.Info("Connection accepted")
	defer func() {
		s.registry.Remove(id)
		s.metrics.ActiveConnections.Dec()
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(s.pongWait))
	ws.SetPongHandler(func(string) error {
		s.registry.KeepAlive(id)
		return ws.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ws, done)

	ctx := c.Request.Context()
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Warn("No pong received, closing connection")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.WithError(err).Warn("Connection closed unexpectedly")
			default:
				logger.Info("Client disconnected")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.pongWait))

		var ack ingest.Ack
		if msgType == websocket.BinaryMessage {
			ack = s.pipeline.Handle(ctx, data)
		} else {
			logger.Warn(FrameTypeErrorMessage)
			ack = ingest.NewError(FrameTypeErrorMessage)
		}
		s.registry.RecordMessage(id, ack.OK())
		s.countAck(transportWS, ack)

		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(ack); err != nil {
			logger.WithError(err).Warn("Failed to write ack")
			return
		}
	}
}

func (s *Server) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// WriteControl may run concurrently with the reader's WriteJSON.
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// track registers an upgraded connection for shutdown. It fails once shutdown began.
func (s *Server) track(ws *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[ws] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(ws *websocket.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, ws)
	}
	s.mu.Unlock()
	s.active.Done()
}

func (s *Server) countAck(transport string, ack ingest.Ack) {
	status := metrics.StatusSuccess
	if !ack.OK() {
		status = metrics.StatusError
	}
	s.metrics.AcksTotal.WithLabelValues(transport, status).Inc()
}
