package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"component-deployer/internal/config"
	"component-deployer/internal/metrics"
)

// DefaultTopic is used when a sink has no topic configured.
const DefaultTopic = "deployer.runs"

// Sink delivers encoded run summaries to one destination.
type Sink interface {
	// Publish sends value under key to topic.
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// SinkFactory creates a Sink from its configuration.
type SinkFactory func(config.SinkConfig) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(cfg config.SinkConfig) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[cfg.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Type)
	}
	return factory(cfg)
}

type messageIDKey struct{}

// WithMessageID attaches the id sinks use to de-duplicate redelivered
// messages.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, id)
}

// MessageID returns the id set by WithMessageID.
func MessageID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(messageIDKey{}).(string)
	return id, ok && id != ""
}

type namedSink struct {
	name   string
	topic  string
	format string
	sink   Sink
}

// Notifier fans a run summary out to every configured sink. A failing sink
// does not stop delivery to the others.
type Notifier struct {
	sinks   []namedSink
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New builds a Notifier from sink configurations. Sink types must have been
// registered, usually by importing internal/notify/sink.
func New(cfgs []config.SinkConfig, log zerolog.Logger, m *metrics.Metrics) (*Notifier, error) {
	n := &Notifier{log: log, metrics: m}
	for _, c := range cfgs {
		s, err := createSink(c)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("sink %s: %w", c.Name, err)
		}
		n.Add(c.Name, c.Topic, c.Format, s)
		log.Info().Str("sink", c.Name).Str("type", c.Type).Msg("Added summary sink")
	}
	return n, nil
}

// Add attaches an already constructed sink.
func (n *Notifier) Add(name, topic, format string, s Sink) {
	if topic == "" {
		topic = DefaultTopic
	}
	n.sinks = append(n.sinks, namedSink{name: name, topic: topic, format: format, sink: s})
}

// Len returns the number of sinks.
func (n *Notifier) Len() int { return len(n.sinks) }

// Publish delivers summary to every sink, with the run id as message id. The
// returned error joins every sink failure; callers treat it as a warning.
func (n *Notifier) Publish(ctx context.Context, summary *RunSummary) error {
	var errs []error
	ctx = WithMessageID(ctx, summary.RunID)
	encoded := map[string][]byte{}
	for _, s := range n.sinks {
		value, ok := encoded[s.format]
		if !ok {
			var err error
			value, err = summary.Encode(s.format)
			if err != nil {
				errs = append(errs, fmt.Errorf("sink %s: %w", s.name, err))
				continue
			}
			encoded[s.format] = value
		}

		if err := s.sink.Publish(ctx, s.topic, summary.Task, value); err != nil {
			n.metrics.ObserveSinkPublish(s.name, "error")
			n.log.Warn().Err(err).
				Str("sink", s.name).
				Str("run_id", summary.RunID).
				Msg("Failed to publish run summary")
			errs = append(errs, fmt.Errorf("sink %s: %w", s.name, err))
			continue
		}
		n.metrics.ObserveSinkPublish(s.name, "ok")
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (n *Notifier) Close() error {
	var errs []error
	for _, s := range n.sinks {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
