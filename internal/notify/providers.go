package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
	AMQPURL      string
	AMQPQueue    string
	Redis        *redis.Client
	RedisChannel string
}

func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "", "stub", "log":
		return logProvider{}, nil
	case "noop":
		return noopProvider{}, nil
	case "fail":
		return failProvider{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{}, nil
		}
		return newWebhookProvider(cfg.WebhookURL, cfg.WebhookToken), nil
	case "amqp":
		if cfg.AMQPURL == "" {
			return nil, errors.New("amqp provider requires NOTIFY_AMQP_URL")
		}
		queue := cfg.AMQPQueue
		if queue == "" {
			queue = "clinic.notifications"
		}
		return amqpProvider{url: cfg.AMQPURL, queue: queue}, nil
	case "redis":
		if cfg.Redis == nil {
			return nil, errors.New("redis provider requires a reachable redis")
		}
		channel := cfg.RedisChannel
		if channel == "" {
			channel = "clinic.notifications"
		}
		return redisProvider{client: cfg.Redis, channel: channel}, nil
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(cfg.Kind, cfg.WebhookToken), nil
		}
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Kind)
	}
}

type logProvider struct{}

func (logProvider) Send(ctx context.Context, message, recipient string) error {
	log.Printf("notify send to %s: %s", recipient, message)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, recipient string) error {
	return errors.New("provider failure")
}

type outboundMessage struct {
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

func encodeMessage(message, recipient string) ([]byte, error) {
	return json.Marshal(outboundMessage{Recipient: recipient, Message: message, SentAt: time.Now().UTC()})
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string) webhookProvider {
	return webhookProvider{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	body, err := encodeMessage(message, recipient)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}
	return nil
}

// amqpProvider opens a connection per message; notification volume is one
// message per call-next.
type amqpProvider struct {
	url   string
	queue string
}

func (p amqpProvider) Send(ctx context.Context, message, recipient string) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	body, err := encodeMessage(message, recipient)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

type redisProvider struct {
	client  *redis.Client
	channel string
}

func (p redisProvider) Send(ctx context.Context, message, recipient string) error {
	body, err := encodeMessage(message, recipient)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, body).Err()
}
