// Package callback sends the webhook notifications the reference
// server fires on publish start/stop: a signed JWT carried in a
// request header, POSTed to an operator-configured URL. Unlike the
// teacher's mixed v4/v5 usage, every token here goes through
// golang-jwt/jwt/v5 exclusively.
package callback

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
)

// Event names carried in the "event" claim.
const (
	EventStart = "start"
	EventStop  = "stop"
)

const tokenTTL = 120 * time.Second
const headerName = "rtmp-event"

// Notifier POSTs signed start/stop events to a configured URL.
type Notifier struct {
	URL     string
	Secret  []byte
	Subject string
	Client  *http.Client
}

// NewNotifier builds a Notifier; url == "" disables notifications
// entirely (NotifyStart and NotifyStop then send nothing and report
// success, NotifyStart with an empty stream id).
func NewNotifier(url string, secret []byte, subject string) *Notifier {
	if subject == "" {
		subject = "rtmp_event"
	}
	return &Notifier{
		URL:     url,
		Secret:  secret,
		Subject: subject,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether this notifier actually sends anything.
func (n *Notifier) Enabled() bool { return n != nil && n.URL != "" }

// StartPayload is the claim set for a publish-start event.
type StartPayload struct {
	Channel  string
	Key      string
	ClientIP string
	RTMPHost string
	RTMPPort int
}

// NotifyStart signs and sends a start event, returning the stream id
// the remote side assigned in its "stream-id" response header.
func (n *Notifier) NotifyStart(p StartPayload) (streamID string, ok bool) {
	if !n.Enabled() {
		return "", true
	}

	claims := jwt.MapClaims{
		"sub":       n.Subject,
		"event":     EventStart,
		"channel":   p.Channel,
		"key":       p.Key,
		"client_ip": p.ClientIP,
		"rtmp_host": p.RTMPHost,
		"rtmp_port": p.RTMPPort,
		"exp":       time.Now().Add(tokenTTL).Unix(),
	}

	res, err := n.send(claims)
	if err != nil {
		rlog.Error(err)
		return "", false
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		rlog.Warning("start callback returned non-200 status")
		return "", false
	}
	return res.Header.Get("stream-id"), true
}

// StopPayload is the claim set for a publish-stop event.
type StopPayload struct {
	Channel  string
	Key      string
	StreamID string
	ClientIP string
}

// NotifyStop signs and sends a stop event.
func (n *Notifier) NotifyStop(p StopPayload) bool {
	if !n.Enabled() {
		return true
	}

	claims := jwt.MapClaims{
		"sub":       n.Subject,
		"event":     EventStop,
		"channel":   p.Channel,
		"key":       p.Key,
		"stream_id": p.StreamID,
		"client_ip": p.ClientIP,
		"exp":       time.Now().Add(tokenTTL).Unix(),
	}

	res, err := n.send(claims)
	if err != nil {
		rlog.Error(err)
		return false
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		rlog.Warning("stop callback returned non-200 status")
		return false
	}
	return true
}

func (n *Notifier) send(claims jwt.MapClaims) (*http.Response, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(n.Secret)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, n.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerName, signed)

	return n.Client.Do(req)
}
