package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"loom/internal/config"
)

const userAgent = "Loom/0.1.0"

// Message is one outbound notification handed to the gateway.
type Message struct {
	Channel         string   `json:"channel"`
	To              string   `json:"to"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Attachments     []string `json:"attachments,omitempty"`
	DeliveryReceipt bool     `json:"delivery_receipt,omitempty"`
}

// Service delivers notifications. Delivery failures are reported to
// the caller, who records them on the transition; they never abort a
// transition.
type Service interface {
	Send(ctx context.Context, msg Message) error
}

// NewService builds a gateway-backed service when a gateway URL is
// configured, a noop otherwise. Disabled channels are dropped before
// they reach the gateway.
func NewService(cfg *config.Config) Service {
	gateway := strings.TrimSpace(cfg.Notifications.GatewayURL)
	if gateway == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &gatewayService{
		endpoint: strings.TrimRight(gateway, "/"),
		client:   &http.Client{Timeout: timeout},
		enabled: map[string]bool{
			"email": cfg.Notifications.Email,
			"sms":   cfg.Notifications.SMS,
			"web":   cfg.Notifications.Web,
		},
	}
}

type gatewayService struct {
	endpoint string
	client   *http.Client
	enabled  map[string]bool
}

func (g *gatewayService) Send(ctx context.Context, msg Message) error {
	channel := strings.ToLower(strings.TrimSpace(msg.Channel))
	if !g.enabled[channel] {
		return nil
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("notification has no recipient address")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/"+channel, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Send(context.Context, Message) error { return nil }

// NewNop returns a service that drops everything.
func NewNop() Service { return noopService{} }

// Recorder captures sent messages for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// Err, when set, is returned from every Send.
	Err error
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
