package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Notifier announces that a tenant's change log grew, so online devices can
// pull promptly instead of waiting for their next poll. Delivery is
// best-effort; the change log itself is the source of truth.
type Notifier interface {
	ChangesAppended(ctx context.Context, tenantID string, watermark int64, count int)
	Close()
}

// ChangeNotice is the published payload.
type ChangeNotice struct {
	TenantID   string `json:"tenantId"`
	Watermark  int64  `json:"watermark"`
	EntryCount int    `json:"entryCount"`
}

type NATSNotifier struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *logrus.Logger
}

// NewNATSNotifier connects to NATS with automatic reconnection. Notices are
// published to "<subjectPrefix>.<tenantID>".
func NewNATSNotifier(url, subjectPrefix string, logger *logrus.Logger) (*NATSNotifier, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)

	return &NATSNotifier{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}, nil
}

func (n *NATSNotifier) ChangesAppended(ctx context.Context, tenantID string, watermark int64, count int) {
	data, err := json.Marshal(ChangeNotice{
		TenantID:   tenantID,
		Watermark:  watermark,
		EntryCount: count,
	})
	if err != nil {
		n.logger.Errorf("failed to marshal change notice: %v", err)
		return
	}

	subject := fmt.Sprintf("%s.%s", n.subjectPrefix, tenantID)
	if err := n.conn.Publish(subject, data); err != nil {
		// Never fail a push over a missed notification.
		n.logger.Warnf("failed to publish change notice for tenant %s: %v", tenantID, err)
		return
	}

	n.logger.Debugf("published change notice %s watermark=%d count=%d", subject, watermark, count)
}

func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// NopNotifier is used when no NATS URL is configured.
type NopNotifier struct{}

func (NopNotifier) ChangesAppended(ctx context.Context, tenantID string, watermark int64, count int) {
}

func (NopNotifier) Close() {}
