// Package transport builds batch transports for the logger from a
// collector URL.
package transport

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/auditmos/blackbox/logging"
)

type Options struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	DialAMQP   AMQPDialFunc
	Console    *logging.Console
}

// New picks a transport by the scheme of the collector URL.
func New(s logging.Settings, instanceID string, opts Options) (logging.Transport, error) {
	if s.CollectorURL == "" {
		return nil, logging.ErrNoCollector
	}
	u, err := url.Parse(s.CollectorURL)
	if err != nil {
		return nil, fmt.Errorf("parse collector url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return logging.NewHTTPTransport(logging.HTTPTransportConfig{
			URL:         s.CollectorURL,
			APIToken:    s.APIToken,
			InstanceID:  instanceID,
			Encoding:    s.Encoding,
			Compression: s.Compression,
			Client:      opts.HTTPClient,
		})
	case "ws", "wss":
		return NewWebSocket(WebSocketConfig{
			URL:        s.CollectorURL,
			APIToken:   s.APIToken,
			InstanceID: instanceID,
			Encoding:   s.Encoding,
			Dialer:     opts.Dialer,
			Console:    opts.Console,
		})
	case "amqp", "amqps":
		return NewAMQP(AMQPConfig{
			URL:        s.CollectorURL,
			InstanceID: instanceID,
			Encoding:   s.Encoding,
			Dial:       opts.DialAMQP,
			Console:    opts.Console,
		})
	default:
		return nil, fmt.Errorf("collector url %q: unsupported scheme %q", s.CollectorURL, u.Scheme)
	}
}

// Factory adapts New to logging.LoggerConfig.NewTransport.
func Factory(opts Options) logging.TransportFactory {
	return func(s logging.Settings, instanceID string) (logging.Transport, error) {
		return New(s, instanceID, opts)
	}
}
