package alert

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSNotifier publica cada alerta como JSON em {subject}.{severidade}.
type NATSNotifier struct {
	Conn    *nats.Conn
	Subject string
}

func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url, nats.Name("traffic-gateway-alerts"))
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = "gateway.alerts"
	}
	return &NATSNotifier{Conn: conn, Subject: subject}, nil
}

func (n *NATSNotifier) Close() {
	if n.Conn != nil {
		_ = n.Conn.Drain()
		n.Conn.Close()
	}
}

func (n *NATSNotifier) subjectFor(s Severity) string {
	return n.Subject + "." + strings.ToLower(string(s))
}

func (n *NATSNotifier) Notify(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return n.Conn.Publish(n.subjectFor(a.Severity), data)
}
