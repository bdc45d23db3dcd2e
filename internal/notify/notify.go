// Package notify publishes build completion events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/sitegen/internal/config"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/retry"
)

const connectTimeout = 5 * time.Second

// Publisher is the part of a NATS connection the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Message is the body published when a build finishes.
type Message struct {
	BuildID     string    `json:"build_id"`
	Outcome     string    `json:"outcome"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  float64   `json:"duration_ms"`
	OutputDir   string    `json:"output_dir"`
	Files       int       `json:"files"`
	Pages       int       `json:"pages"`
	Diagnostics int       `json:"diagnostics"`
	Error       string    `json:"error,omitempty"`
}

// Notifier publishes Messages on one subject.
type Notifier struct {
	pub     Publisher
	subject string
	policy  retry.Policy
	logger  *slog.Logger
}

// Connect dials the NATS server of cfg. It returns nil and no error when no
// server is configured.
func Connect(cfg config.NotifyConfig, logger *slog.Logger) (*Notifier, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("sitegen"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(2),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "connect to NATS").
			WithContext("url", cfg.NATSURL).Warning().Build()
	}
	return New(conn, cfg.Subject, logger).WithRetry(retry.FromConfig(cfg.Retry)), nil
}

// New wraps an existing publisher.
func New(pub Publisher, subject string, logger *slog.Logger) *Notifier {
	if subject == "" {
		subject = config.DefaultNotifySubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, subject: subject, policy: retry.DefaultPolicy(), logger: logger}
}

// WithRetry sets the backoff used when a publish fails.
func (n *Notifier) WithRetry(p retry.Policy) *Notifier {
	n.policy = p
	return n
}

// Subject returns the subject messages go to.
func (n *Notifier) Subject() string { return n.subject }

// BuildCompleted publishes msg and waits for the server to acknowledge the
// flush. Failures are warnings; a build never fails because of them.
func (n *Notifier) BuildCompleted(ctx context.Context, msg Message) error {
	if n == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "marshal build notification").Warning().Build()
	}
	err = n.policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			n.logger.Debug("Retrying build notification", logfields.BuildID(msg.BuildID), slog.Int("attempt", attempt))
		}
		return n.publish(ctx, data)
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "publish build notification").
			WithContext("subject", n.subject).Warning().Build()
	}
	n.logger.Debug("Published build notification", logfields.BuildID(msg.BuildID), slog.String("subject", n.subject))
	return nil
}

func (n *Notifier) publish(ctx context.Context, data []byte) error {
	if err := n.pub.Publish(n.subject, data); err != nil {
		return err
	}
	fctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return n.pub.FlushWithContext(fctx)
}

// Close closes the underlying connection.
func (n *Notifier) Close() {
	if n != nil && n.pub != nil {
		n.pub.Close()
	}
}
