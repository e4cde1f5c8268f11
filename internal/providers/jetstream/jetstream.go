package jetstream

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

const (
	// SubjectPrefix is the root of every ledger event subject
	SubjectPrefix = "ledger"
	// DefaultDuplicateWindow is how long the stream remembers message ids for deduplication
	DefaultDuplicateWindow = 24 * time.Hour
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL             string
	StreamName      string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ConnectionName  string
	DuplicateWindow time.Duration
}

// Subject returns the subject an event is published on: ledger.<chain-slug>.<event_type>
func Subject(event *domain.LedgerEvent) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, event.Chain.Slug(), event.EventType)
}

// ChainSubjects returns the wildcard subject matching every event of a chain
func ChainSubjects(chain domain.Chain) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, chain.Slug())
}

// StreamConfig returns the stream holding every ledger event subject
func StreamConfig(cfg Config) jetstream.StreamConfig {
	window := cfg.DuplicateWindow
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	return jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		Duplicates: window,
	}
}

// ConnectOptions returns the connection options shared by publishers and consumers
func ConnectOptions(cfg Config) []nats.Option {
	return []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
}
