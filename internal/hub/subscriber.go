package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

// SignalR JSON hub protocol subset: 0x1e-delimited JSON frames over a
// websocket, opened with a handshake frame.
const recordSeparator = 0x1e

const (
	messageInvocation = 1
	messagePing       = 6
	messageClose      = 7
)

const handshakeTimeout = 10 * time.Second

var handshakeRequest = append([]byte(`{"protocol":"json","version":1}`), recordSeparator)
var pingFrame = append([]byte(`{"type":6}`), recordSeparator)

type hubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// TokenSource returns the current bearer token. It is read once per connect
// attempt, so a rotated token is honoured on the next reconnect.
type TokenSource func() string

// Handler consumes decoded opportunity events. Panics inside a handler are
// contained; they never terminate the subscription.
type Handler func(OpportunityEvent)

// Subscriber maintains one persistent authenticated connection to the lead
// pool hub and reconnects indefinitely when it drops.
type Subscriber struct {
	url               string
	event             string
	tokens            TokenSource
	handler           Handler
	reconnectDelay    time.Duration
	initialRetryDelay time.Duration
	keepAlive         time.Duration
	dialer            *websocket.Dialer
	log               *logger.Log
}

func NewSubscriber(cfg *config.Config, tokens TokenSource, handler Handler) *Subscriber {
	return &Subscriber{
		url:               cfg.Hub.URL,
		event:             cfg.Hub.Event,
		tokens:            tokens,
		handler:           handler,
		reconnectDelay:    cfg.Hub.ReconnectDelay(),
		initialRetryDelay: cfg.Hub.InitialRetryDelay(),
		keepAlive:         cfg.Hub.KeepAlive(),
		dialer:            websocket.DefaultDialer,
		log:               logger.GetLogger(),
	}
}

// Start connects and consumes hub events until the context is cancelled. It
// never gives up: the first connection is retried at the initial interval and
// lost connections are re-dialed at the (shorter) reconnect interval.
func (s *Subscriber) Start(ctx context.Context) error {
	log := s.log.WithComponent("hub").WithField("url", s.url)

	connectedOnce := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := s.connect(ctx)
		if err != nil {
			delay := s.reconnectDelay
			if !connectedOnce {
				delay = s.initialRetryDelay
			}
			log.WithError(err).Warn("hub connect failed, retrying")
			if waitReconnect(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		if connectedOnce {
			logger.IncrementHubReconnect()
			log.Info("hub connection re-established")
		} else {
			connectedOnce = true
			log.Info("listening for leads")
		}

		stopPing := s.startPingLoop(ctx, conn)
		err = s.readLoop(ctx, conn)
		stopPing()
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("hub connection lost, reconnecting")
		if waitReconnect(ctx, s.reconnectDelay) {
			return ctx.Err()
		}
	}
}

func (s *Subscriber) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("access_token", s.tokens())
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	if err := s.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Subscriber) handshake(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, handshakeRequest); err != nil {
		return fmt.Errorf("handshake send failed: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake response not received: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	frames := splitFrames(msg)
	if len(frames) == 0 {
		return fmt.Errorf("empty handshake response")
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		return fmt.Errorf("undecodable handshake response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("handshake rejected: %s", resp.Error)
	}
	return nil
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		for _, frame := range splitFrames(msg) {
			var m hubMessage
			if err := json.Unmarshal(frame, &m); err != nil {
				s.log.WithComponent("hub").WithError(err).Debug("discarding undecodable hub frame")
				continue
			}

			switch m.Type {
			case messageInvocation:
				if m.Target == s.event && len(m.Arguments) > 0 {
					s.dispatch(m.Arguments[0])
				}
			case messagePing:
				// server keepalive; our own ping loop covers liveness
			case messageClose:
				return fmt.Errorf("hub closed the connection: %s", m.Error)
			}
		}
	}
}

func (s *Subscriber) dispatch(payload json.RawMessage) {
	log := s.log.WithComponent("hub")
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("lead handler failed")
		}
	}()

	id := extractOpportunityID(payload)
	if id == "" {
		log.Debug("lead payload carried no opportunity id, dropping")
		return
	}

	logger.IncrementEventReceived()
	s.handler(OpportunityEvent{OpportunityID: id, Raw: payload})
}

func (s *Subscriber) startPingLoop(ctx context.Context, conn *websocket.Conn) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(s.keepAlive)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
					s.log.WithComponent("hub").WithError(err).Warn("failed to send hub keepalive")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}

func splitFrames(msg []byte) [][]byte {
	var frames [][]byte
	for _, frame := range bytes.Split(msg, []byte{recordSeparator}) {
		if len(frame) > 0 {
			frames = append(frames, frame)
		}
	}
	return frames
}

func waitReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
