package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// ClientName identifies packager connections in the NATS server's
	// connection list.
	ClientName = "nwbpack"

	// QueueGroup is shared by every running packager, so each session
	// request is delivered to exactly one of them.
	QueueGroup = "nwbpack"
)

// Client carries session requests in and packaging outcomes out.
type Client struct {
	conn     *nats.Conn
	subjects []string
	logger   *slog.Logger
}

// NewClient connects to url. The connection keeps retrying for about two
// minutes, so a packager may start before the bus; token is optional.
func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(ClientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected, session requests paused", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "server", nc.ConnectedUrl())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data as JSON on subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return c.conn.Publish(subject, payload)
}

// Subscribe joins QueueGroup on subject. Messages of one subscription are
// handled one after another, so a handler that packages a session holds
// back this packager's next request until it returns.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	_, err := c.conn.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subjects = append(c.subjects, subject)
	c.logger.Info("subscribed", "subject", subject, "queue", QueueGroup)
	return nil
}

// Connected reports whether the bus is reachable right now.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains the connection: requests already delivered are handled and
// pending events flushed before it closes.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed, closing", "subjects", c.subjects, "error", err)
		c.conn.Close()
	}
}
