package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the part of a NATS connection the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on <prefix>.<event type>.
type NATSSink struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
}

type NATSConfig struct {
	URL           string        `yaml:"nats_url" toml:"nats_url"`
	Subject       string        `yaml:"nats_subject" toml:"nats_subject"`
	Name          string        `yaml:"-" toml:"-"`
	MaxReconnects int           `yaml:"-" toml:"-"`
	ReconnectWait time.Duration `yaml:"-" toml:"-"`
}

func DialNATS(cfg NATSConfig, log zerolog.Logger) (*NATSSink, error) {
	if cfg.Name == "" {
		cfg.Name = "trustd-audit"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("audit nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("audit nats reconnected")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: connect nats: %w", err)
	}
	s := NewNATSSink(conn, cfg.Subject)
	s.conn = conn
	return s, nil
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "audit"
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

func (s *NATSSink) Record(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.prefix+"."+e.Type, data)
}

// Close drains the connection when the sink owns one.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
