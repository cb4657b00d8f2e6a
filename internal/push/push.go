package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/vapid"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// DeliveryTTL is how long (seconds) the push service should hold a message.
const DeliveryTTL = 86400

// ErrGone is matched by delivery errors whose status marks the subscription
// as permanently invalid (404 Not Found, 410 Gone).
var ErrGone = errors.New("push subscription gone")

// StatusError is returned for any non-2xx response from the push service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned %d", e.Code)
	}
	return fmt.Sprintf("push service returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrGone && (e.Code == http.StatusNotFound || e.Code == http.StatusGone)
}

// Mode selects how the payload is put on the wire.
type Mode string

const (
	// ModePlaintext posts the JSON payload unencrypted.
	ModePlaintext Mode = "plaintext"
	// ModeEncrypted encrypts the payload for the subscription keys (aes128gcm).
	ModeEncrypted Mode = "encrypted"
)

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Icon  string      `json:"icon,omitempty"`
	Tag   string      `json:"tag,omitempty"`
	Data  PayloadData `json:"data"`
}

// PayloadData is echoed back to the client shell when the notification is opened.
type PayloadData struct {
	URL string `json:"url,omitempty"`
}

// Config holds VAPID and transport configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	Mode            Mode
	Timeout         time.Duration
	// SendRate caps deliveries per second across the service; 0 disables pacing.
	SendRate float64
}

// Service handles sending web push notifications.
type Service struct {
	cfg     Config
	signer  *vapid.Signer
	client  *http.Client
	limiter *rate.Limiter
}

// NewService creates a push service. Key material is validated up front.
func NewService(cfg Config) (*Service, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModePlaintext
	}
	if cfg.Mode != ModePlaintext && cfg.Mode != ModeEncrypted {
		return nil, fmt.Errorf("unknown push mode %q", cfg.Mode)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	signer, err := vapid.NewSigner(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.Subject)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRate > 0 {
		burst := int(cfg.SendRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}

	return &Service{
		cfg:    cfg,
		signer: signer,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
	}, nil
}

// WithHTTPClient replaces the client used for deliveries.
func (s *Service) WithHTTPClient(c *http.Client) *Service {
	s.client = c
	return s
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Mode reports the configured payload mode.
func (s *Service) Mode() Mode {
	return s.cfg.Mode
}

// Send delivers one payload to one subscription. It never retries.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	var resp *http.Response
	if s.cfg.Mode == ModeEncrypted {
		resp, err = s.sendEncrypted(ctx, sub, data)
	} else {
		resp, err = s.sendPlaintext(ctx, sub, data)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Service) sendPlaintext(ctx context.Context, sub *model.PushSubscription, data []byte) (*http.Response, error) {
	authz, err := s.signer.Authorization(sub.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("sign vapid token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(data)))
	req.Header.Set("TTL", strconv.Itoa(DeliveryTTL))
	req.Header.Set("Urgency", string(webpush.UrgencyHigh))
	req.Header.Set("Authorization", authz)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send push: %w", err)
	}
	return resp, nil
}

func (s *Service) sendEncrypted(ctx context.Context, sub *model.PushSubscription, data []byte) (*http.Response, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		TTL:             DeliveryTTL,
		Urgency:         webpush.UrgencyHigh,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
	})
	if err != nil {
		return nil, fmt.Errorf("send encrypted push: %w", err)
	}
	return resp, nil
}
