package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"credit-backend/internal/config"
	"credit-backend/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// ScannerEventNotification envelope the block scanner publishes for every contract log
type ScannerEventNotification struct {
	ChainID      uint64                 `json:"chainId"`
	EventName    string                 `json:"eventName"`
	ContractAddr string                 `json:"contractAddr"`
	BlockNumber  uint64                 `json:"blockNumber"`
	TxHash       string                 `json:"txHash"`
	EventSig     string                 `json:"eventSig"`
	LogIndex     uint                   `json:"logIndex"`
	EventData    map[string]interface{} `json:"eventData"`
}

// NATSClient NATS client
type NATSClient struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *logrus.Logger
}

// NewNATSClient connects to the NATS server with unlimited reconnects
func NewNATSClient(cfg config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("credit-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("[NATS] disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("[NATS] reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			metrics.NATSConnectionStatus.Set(0)
		}),
	)
	if err != nil {
		metrics.NATSConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)
	logger.WithField("url", conn.ConnectedUrl()).Info("✅ [NATS] connected")

	return &NATSClient{conn: conn, logger: logger}, nil
}

// Subscribe registers handler on subject (wildcards allowed)
func (c *NATSClient) Subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.WithField("subject", subject).Info("[NATS] subscribed")
	return nil
}

// PublishJSON marshals payload and publishes it on subject
func (c *NATSClient) PublishJSON(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(subject).Inc()
	return nil
}

// Connected reports the live connection state
func (c *NATSClient) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
