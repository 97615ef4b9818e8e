// Package control implements the optional coordinator connection: a
// websocket RPC link a streaming node uses to delegate publish
// authorization to a central control plane and receive stream-kill
// commands back, instead of (or alongside) the JWT callback webhook.
package control

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
	"github.com/rtmpcore/rtmp-core/internal/sysutil"
)

// PublishResponse is the coordinator's answer to a publish request.
type PublishResponse struct {
	Accepted bool
	StreamID string
}

type pendingRequest struct {
	waiter chan PublishResponse
}

// KillHandler is invoked when the coordinator orders a publisher
// killed, either for a specific stream id or (streamID == "") for
// whatever is currently publishing on channel.
type KillHandler func(channel, streamID string)

// Connection manages a websocket RPC connection to the coordinator,
// reconnecting automatically and answering PUBLISH-REQUEST waiters as
// PUBLISH-ACCEPT/PUBLISH-DENY messages arrive.
type Connection struct {
	url        string
	authSecret []byte
	externalIP string

	onKill KillHandler
	jitter *sysutil.Jitter

	mu         sync.Mutex
	conn       *websocket.Conn
	nextReqID  uint64
	requests   map[string]*pendingRequest
	enabled    bool
	stopSignal chan struct{}
}

// New builds a coordinator connection. baseURL == "" disables it
// entirely (the node then runs stand-alone, authorizing publishes via
// the JWT callback webhook instead).
func New(baseURL string, authSecret []byte, externalIP string, onKill KillHandler) (*Connection, error) {
	c := &Connection{
		authSecret: authSecret,
		externalIP: externalIP,
		onKill:     onKill,
		jitter:     sysutil.NewJitter(time.Now().UnixNano()),
		requests:   make(map[string]*pendingRequest),
		stopSignal: make(chan struct{}),
	}

	if baseURL == "" {
		rlog.Warning("control base URL not provided, running stand-alone")
		return c, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	path, _ := url.Parse("/ws/control/rtmp")
	c.url = base.ResolveReference(path).String()
	c.enabled = true

	go c.connect()
	go c.runHeartbeatLoop()

	return c, nil
}

// Enabled reports whether this connection actually talks to a
// coordinator.
func (c *Connection) Enabled() bool { return c.enabled }

func (c *Connection) authToken() string {
	if len(c.authSecret) == 0 {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rtmp-control",
	})
	signed, err := token.SignedString(c.authSecret)
	if err != nil {
		rlog.Error(err)
		return ""
	}
	return signed
}

func (c *Connection) connect() {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}

	rlog.Info("[control] connecting to " + c.url)

	headers := http.Header{}
	if tok := c.authToken(); tok != "" {
		headers.Set("x-control-auth-token", tok)
	}
	if c.externalIP != "" {
		headers.Set("x-external-ip", c.externalIP)
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, headers)
	if err != nil {
		c.mu.Unlock()
		rlog.Error(err)
		go c.reconnect()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	go c.runReaderLoop(conn)
}

func (c *Connection) reconnect() {
	select {
	case <-time.After(c.jitter.JitteredBackoff(10*time.Second, 0.5)):
		c.connect()
	case <-c.stopSignal:
	}
}

func (c *Connection) onDisconnect(err error) {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	rlog.Error(err)
	go c.connect()
}

// Send serializes and sends an RPC message, returning false if there
// is currently no live connection.
func (c *Connection) Send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize())); err != nil {
		return false
	}
	rlog.Debug("[control] >>> " + msg.Method)
	return true
}

func (c *Connection) nextRequestID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextReqID
	c.nextReqID++
	return id
}

func (c *Connection) runReaderLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}
		msg := messages.ParseRPCMessage(string(raw))
		c.handleIncoming(&msg)
	}
}

func (c *Connection) handleIncoming(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		rlog.Warning("[control] remote error: " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolveRequest(msg.GetParam("Request-Id"), PublishResponse{Accepted: true, StreamID: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolveRequest(msg.GetParam("Request-Id"), PublishResponse{Accepted: false})
	case "STREAM-KILL":
		if c.onKill != nil {
			streamID := msg.GetParam("Stream-Id")
			if streamID == "*" {
				streamID = ""
			}
			c.onKill(msg.GetParam("Stream-Channel"), streamID)
		}
	}
}

func (c *Connection) resolveRequest(requestID string, res PublishResponse) {
	c.mu.Lock()
	req := c.requests[requestID]
	c.mu.Unlock()
	if req == nil {
		return
	}
	req.waiter <- res
}

func (c *Connection) runHeartbeatLoop() {
	for {
		select {
		case <-time.After(20 * time.Second):
			c.Send(messages.RPCMessage{Method: "HEARTBEAT"})
		case <-c.stopSignal:
			return
		}
	}
}

// Stop halts the reconnect/heartbeat loops and closes any live
// connection.
func (c *Connection) Stop() {
	close(c.stopSignal)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// RequestPublish asks the coordinator whether channel/key may start
// publishing, blocking until it answers or 20 seconds pass. When the
// connection is disabled (stand-alone mode) every publish is accepted
// locally.
func (c *Connection) RequestPublish(channel, key, userIP string) (accepted bool, streamID string) {
	if !c.enabled {
		return true, ""
	}

	requestID := fmt.Sprint(c.nextRequestID())
	req := &pendingRequest{waiter: make(chan PublishResponse, 1)}

	c.mu.Lock()
	c.requests[requestID] = req
	c.mu.Unlock()

	ok := c.Send(messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":     requestID,
			"Stream-Channel": channel,
			"Stream-Key":     key,
			"User-IP":        userIP,
		},
	})
	if !ok {
		c.mu.Lock()
		delete(c.requests, requestID)
		c.mu.Unlock()
		return false, ""
	}

	timer := time.AfterFunc(20*time.Second, func() {
		select {
		case req.waiter <- PublishResponse{Accepted: false}:
		default:
		}
	})
	defer timer.Stop()

	res := <-req.waiter

	c.mu.Lock()
	delete(c.requests, requestID)
	c.mu.Unlock()

	return res.Accepted, res.StreamID
}

// PublishEnd notifies the coordinator that a publish session ended.
func (c *Connection) PublishEnd(channel, streamID string) bool {
	return c.Send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{
			"Stream-Channel": channel,
			"Stream-ID":      streamID,
		},
	})
}
