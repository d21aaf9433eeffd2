package stats

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox    Stage = "mbox"
	StageIMAP    Stage = "imap"
	StageStore   Stage = "store"
	StageResolve Stage = "resolve"
)

type EventType string

const (
	EventTypeScanned    EventType = "scanned"
	EventTypeFiltered   EventType = "filtered"
	EventTypeStored     EventType = "stored"
	EventTypeDryRun     EventType = "dry_run"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypeIntegrated EventType = "integrated"
	EventTypePending    EventType = "pending"
	EventTypeError      EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Commit    string
	Err       error
	Detail    string
}

type Summary struct {
	Scanned    int
	Filtered   int
	Stored     int
	DryRun     int
	Duplicates int
	Integrated int
	Pending    int
	Errors     int
	LastError  error

	// ErrorsByStage splits Errors by the stage that reported them.
	ErrorsByStage map[Stage]int
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"filtered", s.Filtered,
		"stored", s.Stored,
		"dryRun", s.DryRun,
		"duplicates", s.Duplicates,
		"integrated", s.Integrated,
		"pending", s.Pending,
		"errors", s.Errors,
	}
	for _, stage := range []Stage{StageMbox, StageIMAP, StageStore, StageResolve} {
		if n := s.ErrorsByStage[stage]; n > 0 {
			attrs = append(attrs, string(stage)+"Errors", n)
		}
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Run applies events until the channel closes. On cancellation it still
// applies the events already buffered, so the error that stopped a run is
// counted.
func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			c.drain(events)
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) drain(events <-chan Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	summary.ErrorsByStage = maps.Clone(c.summary.ErrorsByStage)
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeStored:
		c.summary.Stored++
	case EventTypeDryRun:
		c.summary.DryRun++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeIntegrated:
		c.summary.Integrated++
	case EventTypePending:
		c.summary.Pending++
	case EventTypeError:
		c.summary.Errors++
		if c.summary.ErrorsByStage == nil {
			c.summary.ErrorsByStage = make(map[Stage]int)
		}
		c.summary.ErrorsByStage[evt.Stage]++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Count)
	}
}

type Count struct {
	Key   string
	Count int
}

// Top returns the limit most frequent keys of m, ties ordered by key.
func Top(m map[string]int, limit int) []Count {
	pairs := make([]Count, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Count{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
