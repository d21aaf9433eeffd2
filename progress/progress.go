package progress

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/patchtrack/stats"
)

// Bar tracks scanned messages and resolved commits on a terminal progress bar.
type Bar struct {
	pb          *pterm.ProgressbarPrinter
	total       int
	alreadyDone int
	current     int
	mu          sync.Mutex
	enabled     bool
}

// New creates a progress bar when logLevel is "info". total counts the
// messages and commits the run will process.
func New(total int, alreadyDone int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{
		total:       total,
		alreadyDone: alreadyDone,
		enabled:     enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Tracking patches").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Items to process: %d\n", total)
		pterm.Info.Printf("Already recorded: %d\n", alreadyDone)
		pterm.Println()
	}

	return bar
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar for events that finish one item.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.advance("Decoding: " + truncate(evt.MessageID))
	case stats.EventTypeIntegrated, stats.EventTypePending:
		b.advance("Resolving: " + truncate(evt.Commit))
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
		if evt.Stage == stats.StageResolve {
			b.advance("Resolving: " + truncate(evt.Commit))
		}
	}
}

func (b *Bar) advance(title string) {
	b.current++
	if b.pb.Current < b.total {
		b.pb.Increment()
	}
	if title != "" {
		b.pb.UpdateTitle(title)
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Processing complete!")
}

// Subscriber feeds pipeline events into the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

func truncate(id string) string {
	if len(id) > 40 {
		return id[:37] + "..."
	}
	return id
}

// Reporter prints a pterm summary table once the pipeline ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)
	pr.bar.Stop()

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Metric", "Count"},
		{"Scanned", strconv.Itoa(summary.Scanned)},
		{"Filtered", strconv.Itoa(summary.Filtered)},
		{"Stored", strconv.Itoa(summary.Stored)},
		{"Dry-run", strconv.Itoa(summary.DryRun)},
		{"Duplicates", strconv.Itoa(summary.Duplicates)},
		{"Integrated", strconv.Itoa(summary.Integrated)},
		{"Pending", strconv.Itoa(summary.Pending)},
		{"Errors", strconv.Itoa(summary.Errors)},
	}).Render()
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}

func (pr *Reporter) Summary() stats.Summary {
	return pr.collector.Snapshot()
}
