package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/patchtrack/model"
	"github.com/dhcgn/patchtrack/runner"
)

// Options selects the mbox archive to stream. Input, when set, is read
// instead of opening Path.
type Options struct {
	Path  string
	Input io.Reader
}

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" && opts.Input == nil {
		return nil, fmt.Errorf("mbox path is empty")
	}

	return &fileReader{
		path:   path,
		input:  opts.Input,
		logger: logger,
	}, nil
}

type fileReader struct {
	path   string
	input  io.Reader
	logger *slog.Logger
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	reader, closeFn, err := open(f.path, f.input)
	if err != nil {
		return f.emitError(ctx, out, err)
	}
	defer closeFn()

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return f.emitError(ctx, out, fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return f.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err))
		}

		msg := Decode(raw)
		if f.logger != nil {
			f.logger.Debug("decoded message", "index", idx, "messageID", msg.ID, "subject", msg.Subject)
		}

		if err := f.emitEnvelope(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func (f *fileReader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Error("mbox stream error", "path", f.path, "err", err)
	}
	if err := f.emitEnvelope(ctx, out, model.Envelope{Err: err}); err != nil {
		return err
	}
	return nil
}

func (f *fileReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

func open(path string, input io.Reader) (*mboxlib.Reader, func(), error) {
	if input != nil {
		return mboxlib.NewReader(input), func() {}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open mbox: %w", err)
	}
	return mboxlib.NewReader(file), func() { _ = file.Close() }, nil
}

type Producer struct {
	reader Reader
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddSource("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context, out chan<- model.Envelope) error {
	return p.reader.Stream(ctx, out)
}

// Read opens an mbox file and calls fn for every decoded message.
func Read(path string, fn func(msg model.Message) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return ReadFrom(file, fn)
}

// ReadFrom calls fn for every decoded message of the mbox stream r. A
// message whose content cannot be read is skipped.
func ReadFrom(r io.Reader, fn func(msg model.Message) error) error {
	reader := mboxlib.NewReader(r)
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			continue
		}

		if err := fn(Decode(raw)); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	reader, closeFn, err := open(path, nil)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Consume without decoding.
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
