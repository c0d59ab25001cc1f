package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/auditmos/blackbox/logging"
)

const DefaultRoutingKey = "blackbox.logs"

// Channel is the part of *amqp.Channel the transport publishes through.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPDialFunc opens a channel on the broker. The returned closer owns
// the underlying connection.
type AMQPDialFunc func(url string) (Channel, io.Closer, error)

func dialAMQP(url string) (Channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

type AMQPConfig struct {
	// URL is the broker URL. The exchange and routingKey query
	// parameters select where batches are published and are stripped
	// before dialing.
	URL        string
	InstanceID string
	Encoding   logging.Encoding
	Dial       AMQPDialFunc
	Console    *logging.Console
}

// AMQP publishes each batch as one persistent message.
type AMQP struct {
	brokerURL  string
	exchange   string
	routingKey string
	instanceID string
	encoding   logging.Encoding
	dial       AMQPDialFunc
	console    *logging.Console

	mu     sync.Mutex
	ch     Channel
	conn   io.Closer
	closed bool
}

func NewAMQP(cfg AMQPConfig) (*AMQP, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return nil, fmt.Errorf("broker url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("broker url %q: missing host", cfg.URL)
	}

	q := u.Query()
	exchange := q.Get("exchange")
	routingKey := q.Get("routingKey")
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
	q.Del("exchange")
	q.Del("routingKey")
	u.RawQuery = q.Encode()

	dial := cfg.Dial
	if dial == nil {
		dial = dialAMQP
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = logging.EncodingJSON
	}

	return &AMQP{
		brokerURL:  u.String(),
		exchange:   exchange,
		routingKey: routingKey,
		instanceID: cfg.InstanceID,
		encoding:   encoding,
		dial:       dial,
		console:    cfg.Console,
	}, nil
}

func (a *AMQP) Deliver(ctx context.Context, batch logging.Batch) error {
	body, err := logging.EncodeBatch(batch, a.encoding)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return logging.ErrClosed
	}
	if a.ch == nil {
		ch, conn, err := a.dial(a.brokerURL)
		if err != nil {
			return logging.WrapErrorWithType("amqp dial", err, "network_error")
		}
		a.ch, a.conn = ch, conn
		a.console.Debug("AMQP channel opened", logging.WithField("routing_key", a.routingKey))
	}

	msg := amqp.Publishing{
		ContentType:  a.encoding.ContentType(),
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		AppId:        "blackbox",
		Headers: amqp.Table{
			"projectId":  batch.ProjectID,
			"instanceId": a.instanceID,
			"entries":    int32(len(batch.Entries)),
		},
		Body: body,
	}

	if err := a.ch.PublishWithContext(ctx, a.exchange, a.routingKey, false, false, msg); err != nil {
		a.resetLocked()
		return logging.WrapErrorWithType("amqp publish", err, "network_error")
	}
	return nil
}

func (a *AMQP) resetLocked() {
	if a.ch != nil {
		a.ch.Close()
		a.ch = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// Target returns the exchange and routing key batches are published to.
func (a *AMQP) Target() (exchange, routingKey string) {
	return a.exchange, a.routingKey
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.resetLocked()
	return nil
}
