package signal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
)

// DefaultPingInterval is how often the agent connection is pinged.
const DefaultPingInterval = 20 * time.Second

// message is the generic agent WebSocket envelope.
type message struct {
	Method          string `json:"method"`
	Code            *int   `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	AccessToken     string `json:"accessToken,omitempty"`
	AgentID         string `json:"agentId,omitempty"`
	LaunchRequestID string `json:"launchRequestId,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	MessageType     string `json:"messageType,omitempty"`
	MessagePayload  string `json:"messagePayload,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Client manages the agent WebSocket. It authenticates on Connect and then
// relays stream negotiation for one stream at a time.
type Client struct {
	url          string
	token        string
	agentID      string
	PingInterval time.Duration

	conn *websocket.Conn
	log  *logger.Logger

	wmu sync.Mutex

	hmu       sync.RWMutex
	handler   domain.Handler
	sessionID string

	authed    chan error
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a signaling client for agent.
func NewClient(agent domain.AgentInfo, token string, log *logger.Logger) *Client {
	return &Client{
		url:          agent.SignalServer,
		token:        token,
		agentID:      agent.ID,
		PingInterval: DefaultPingInterval,
		log:          log.Component("signal"),
		authed:       make(chan error, 1),
		closed:       make(chan struct{}),
	}
}

// Connect dials the agent WebSocket, starts the read loop and waits for the
// authentication response.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info().Str("url", c.url).Msg("connecting")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	c.send(message{Method: "AUTH", AccessToken: c.token, AgentID: c.agentID})

	select {
	case err := <-c.authed:
		if err != nil {
			c.Close()
			return err
		}
		return nil
	case <-c.closed:
		return fmt.Errorf("agent connection closed during auth: %w", domain.ErrClosed)
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

// Close shuts down the WebSocket connection and waits for its loops.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
	c.wg.Wait()
}

// SetHandler routes stream events to h; nil detaches the current handler.
func (c *Client) SetHandler(h domain.Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handler = h
}

func (c *Client) currentHandler() domain.Handler {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handler
}

func (c *Client) session() string {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.sessionID
}

// JoinStream asks the agent to attach this client to the worker serving
// requestID. An empty requestID joins the local session.
func (c *Client) JoinStream(requestID string) {
	c.hmu.Lock()
	c.sessionID = uuid.NewString()
	session := c.sessionID
	c.hmu.Unlock()

	c.send(message{Method: "JOIN_STREAM", LaunchRequestID: requestID, SessionID: session})
}

// LeaveStream detaches the current stream.
func (c *Client) LeaveStream() {
	session := c.session()
	c.SetHandler(nil)
	if session != "" {
		c.send(message{Method: "LEAVE_STREAM", SessionID: session})
	}
}

// SendSDPOffer sends the SDP offer via TRANSMIT.
func (c *Client) SendSDPOffer(sdp string) {
	c.transmit("SDP_OFFER", domain.SDPPayload{Type: "offer", SDP: sdp})
}

// SendICECandidate sends a local ICE candidate via TRANSMIT.
func (c *Client) SendICECandidate(sdpMid string, sdpMLineIndex int, candidate string) {
	c.transmit("ICE_CANDIDATE", domain.ICECandidatePayload{
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
		Candidate:     candidate,
	})
}

func (c *Client) transmit(messageType string, payload any) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Str("type", messageType).Msg("marshal payload")
		return
	}
	c.send(message{
		Method:         "TRANSMIT",
		MessageType:    messageType,
		MessagePayload: base64.StdEncoding.EncodeToString(payloadJSON),
		SessionID:      c.session(),
	})
}

func (c *Client) send(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal")
		return
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.log.Debug().Str("method", msg.Method).Msg(">>>")
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn().Err(err).Msg("write")
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("read")
				c.closeOnce.Do(func() {
					close(c.closed)
					c.conn.Close()
				})
				if h := c.currentHandler(); h != nil {
					h.OnPeerOut()
				}
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("unmarshal")
			continue
		}
		c.log.Debug().Str("method", msg.Method).Msg("<<<")
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	if msg.Method == "AUTH_RESPONSE" {
		var err error
		if msg.Code == nil || *msg.Code != 0 {
			code := -1
			if msg.Code != nil {
				code = *msg.Code
			}
			err = fmt.Errorf("agent auth failed (code=%d): %s", code, msg.Message)
		}
		select {
		case c.authed <- err:
		default:
		}
		return
	}

	h := c.currentHandler()
	if h == nil {
		c.log.Debug().Str("method", msg.Method).Msg("no stream attached, dropping")
		return
	}
	if msg.SessionID != "" && msg.SessionID != c.session() {
		c.log.Debug().Str("method", msg.Method).Str("session", msg.SessionID).Msg("stale session, dropping")
		return
	}

	switch msg.Method {
	case "JOIN_STREAM_RESPONSE":
		c.log.Info().Interface("code", msg.Code).Str("msg", msg.Message).Msg("join stream response")

	case "PEER_IN":
		h.OnPeerIn()

	case "PEER_OUT":
		h.OnPeerOut()

	case "WITHDRAWN":
		h.OnWithdrawn(msg.Reason)

	case "MESSAGE":
		h.OnMessage(msg.Message)

	case "TRANSMIT":
		switch msg.MessageType {
		case "SDP_ANSWER":
			var sdp domain.SDPPayload
			if err := decodePayload(msg.MessagePayload, &sdp); err != nil {
				c.log.Warn().Err(err).Msg("decode SDP_ANSWER")
				return
			}
			h.OnSDPAnswer(sdp)

		case "ICE_CANDIDATE":
			var candidate domain.ICECandidatePayload
			if err := decodePayload(msg.MessagePayload, &candidate); err != nil {
				c.log.Warn().Err(err).Msg("decode ICE_CANDIDATE")
				return
			}
			h.OnRemoteICECandidate(candidate)
		}

	case "TRANSMIT_RESPONSE", "RESPONSE":
		// no-op

	default:
		c.log.Debug().Str("method", msg.Method).Msg("unhandled method")
	}
}

func decodePayload(encoded string, v any) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	if len(decoded) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(decoded, v)
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			c.wmu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warn().Err(err).Msg("ping")
				}
				return
			}
		}
	}
}
