package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/patchtrack/config"
	"github.com/dhcgn/patchtrack/filter"
	"github.com/dhcgn/patchtrack/model"
	"github.com/dhcgn/patchtrack/state"
	"github.com/dhcgn/patchtrack/stats"
)

type StageFunc func(context.Context) error

// SourceFunc writes envelopes into out until its input is exhausted.
// The runner closes the shared channel once every source has returned.
type SourceFunc func(ctx context.Context, out chan<- model.Envelope) error

// Resolver determines how a commit reached a branch.
type Resolver interface {
	Resolve(ctx context.Context, branch, commit string) (model.Integration, error)
}

type task struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name   string
	events chan stats.Event
	fn     func(context.Context, <-chan stats.Event) error
}

type Runner struct {
	cfg    config.Config
	logger *slog.Logger
	store  state.Store
	filter *filter.Filter

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope

	sources     []task
	stages      []task
	subscribers []*subscriber

	sourceWG sync.WaitGroup
	workWG   sync.WaitGroup
	statsWG  sync.WaitGroup

	errMu sync.Mutex
	err   error

	started bool
	since   time.Time
}

// New prepares a runner that writes decoded messages and integration
// results to store. Stages and sources only start with Start.
func New(cfg config.Config, store state.Store, logger *slog.Logger) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("state store must not be nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		filter:   f,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Store() state.Store {
	return r.store
}

func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

// EmitEvent delivers evt to every subscriber. It gives up once the run is
// cancelled.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, sub := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case sub.events <- evt:
		}
	}
}

// SubscribeStats registers fn to receive every pipeline event on its own
// channel. Subscriptions must happen before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers = append(r.subscribers, &subscriber{
		name:   name,
		events: make(chan stats.Event, 128),
		fn:     fn,
	})
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, task{name: name, fn: fn})
}

// AddSource registers a producer of envelopes. Its name becomes the stage
// of the events the envelopes cause.
func (r *Runner) AddSource(name string, fn SourceFunc) {
	r.sources = append(r.sources, task{name: name, fn: func(ctx context.Context) error {
		out := make(chan model.Envelope)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for env := range out {
				env.Source = name
				select {
				case <-ctx.Done():
				case r.messages <- env:
				}
			}
		}()
		err := fn(ctx, out)
		close(out)
		<-done
		return err
	}})
}

func sourceStage(env model.Envelope) stats.Stage {
	if env.Source == "" {
		return stats.StageMbox
	}
	return stats.Stage(env.Source)
}

// AddResolve registers a stage resolving commits against branch with at
// most workers concurrent queries. A commit that cannot be resolved is
// reported and skipped.
func (r *Runner) AddResolve(resolver Resolver, branch string, commits []string, workers int) {
	if workers <= 0 {
		workers = 1
	}
	r.AddStage("resolve", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, commit := range commits {
			g.Go(func() error {
				r.resolveOne(gctx, resolver, branch, commit)
				return gctx.Err()
			})
		}
		return g.Wait()
	})
}

func (r *Runner) resolveOne(ctx context.Context, resolver Resolver, branch, commit string) {
	integration, err := resolver.Resolve(ctx, branch, commit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("resolve failed", "commit", commit, "branch", branch, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageResolve, Type: stats.EventTypeError, Commit: commit, Err: err})
		return
	}

	if !r.cfg.DryRun {
		if err := r.store.Set(ctx, state.CommitKey(commit), integration); err != nil {
			r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Commit: commit, Err: err})
			r.fail(fmt.Errorf("store integration %s: %w", commit, err))
			return
		}
	}

	evt := stats.Event{Stage: stats.StageResolve, Type: stats.EventTypePending, Commit: commit, Detail: string(integration.State)}
	if integration.Integrated() {
		evt.Type = stats.EventTypeIntegrated
		evt.Detail = integration.Commit
	}
	r.logger.Debug("resolved commit", "commit", commit, "branch", branch, "state", integration.State, "via", integration.Commit)
	r.EmitEvent(evt)
}

// Start launches all registered subscribers, sources and stages and waits
// for them to finish. The first failure cancels the run and is returned.
func (r *Runner) Start() error {
	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.since = time.Now()

	for _, sub := range r.subscribers {
		r.statsWG.Add(1)
		go func(sub *subscriber) {
			defer r.statsWG.Done()
			if err := sub.fn(r.ctx, sub.events); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stats: %w", sub.name, err))
			}
		}(sub)
	}

	for _, src := range r.sources {
		r.sourceWG.Add(1)
		go func(src task) {
			defer r.sourceWG.Done()
			r.runTask("source", src)
		}(src)
	}
	go func() {
		r.sourceWG.Wait()
		close(r.messages)
	}()

	for _, stage := range r.stages {
		r.workWG.Add(1)
		go func(stage task) {
			defer r.workWG.Done()
			r.runTask("stage", stage)
		}(stage)
	}

	r.workWG.Wait()
	r.sourceWG.Wait()
	for _, sub := range r.subscribers {
		close(sub.events)
	}
	r.statsWG.Wait()

	interrupted := r.ctx.Err()
	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	if err == nil && interrupted != nil {
		err = fmt.Errorf("pipeline stopped: %w", interrupted)
	}

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) runTask(kind string, t task) {
	if err := t.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.fail(fmt.Errorf("%s %s: %w", t.name, kind, err))
	}
}

func (r *Runner) bridge(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}
			r.handle(ctx, envelope)
		}
	}
}

func (r *Runner) handle(ctx context.Context, envelope model.Envelope) {
	stage := sourceStage(envelope)
	if envelope.Err != nil {
		r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeError, Err: envelope.Err})
		r.fail(fmt.Errorf("source envelope: %w", envelope.Err))
		return
	}

	msg := envelope.Message
	r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeScanned, MessageID: msg.ID})

	if !r.filter.AllowsMessage(msg) {
		r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeFiltered, MessageID: msg.ID})
		return
	}

	key := state.MessageKey(msg)
	if r.store.Has(ctx, key) {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
		return
	}

	if r.cfg.DryRun {
		r.logger.Debug("dry-run store", "key", key, "subject", msg.Subject)
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeDryRun, MessageID: msg.ID})
		return
	}

	if err := r.store.Set(ctx, key, msg); err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
		r.fail(fmt.Errorf("store message %s: %w", key, err))
		return
	}
	r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeStored, MessageID: msg.ID})
}

// Stop cancels a running pipeline. Start returns once every stage has
// drained.
func (r *Runner) Stop() {
	r.cancel()
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
