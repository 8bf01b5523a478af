// Package parley provides a top-level convenience entry point for running
// a turn scheduler with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/parley"
//
//	sched, err := parley.New(parley.WithResponders(alice, bob))
//	conv, err := sched.CreateConversation(ctx, orchestrator.CreateRequest{...})
//	err = sched.Run(ctx, conv.ID)
//
// The defaults wire an in-memory store and channel; production deployments
// should build the orchestrator directly from config (see cmd/parleyd).
package parley

import (
	"go.uber.org/zap"

	"github.com/BaSui01/parley/channel"
	"github.com/BaSui01/parley/contextmgr"
	"github.com/BaSui01/parley/orchestrator"
	"github.com/BaSui01/parley/persistence"
	"github.com/BaSui01/parley/responder"
)

// Option configures the scheduler created by [New].
type Option func(*options)

type options struct {
	cfg        orchestrator.Config
	store      persistence.Store
	channel    channel.Channel
	summarizer contextmgr.Summarizer
	responders []responder.Responder
	logger     *zap.Logger
}

// WithConfig replaces the default orchestrator configuration.
func WithConfig(cfg orchestrator.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithStore sets the conversation store. Defaults to in-memory.
func WithStore(s persistence.Store) Option {
	return func(o *options) { o.store = s }
}

// WithChannel sets the message channel. Defaults to in-memory.
func WithChannel(c channel.Channel) Option {
	return func(o *options) { o.channel = c }
}

// WithSummarizer enables rolling context summarization.
func WithSummarizer(s contextmgr.Summarizer) Option {
	return func(o *options) { o.summarizer = s }
}

// WithResponders registers responders on the scheduler's registry.
func WithResponders(rs ...responder.Responder) Option {
	return func(o *options) { o.responders = append(o.responders, rs...) }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an [orchestrator.Orchestrator] with in-process defaults.
func New(opts ...Option) (*orchestrator.Orchestrator, error) {
	o := options{
		cfg:    orchestrator.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.store == nil {
		o.store = persistence.NewMemoryStore()
	}
	if o.channel == nil {
		o.channel = channel.NewMemoryChannel(channel.MemoryConfig{}, o.logger)
	}

	registry := responder.NewRegistry(o.logger)
	for _, r := range o.responders {
		registry.Register(r)
	}

	return orchestrator.New(o.cfg, orchestrator.Deps{
		Store:      o.store,
		Channel:    o.channel,
		Registry:   registry,
		Summarizer: o.summarizer,
		Logger:     o.logger,
	}), nil
}
