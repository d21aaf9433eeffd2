package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/patchtrack/mbox"
	"github.com/dhcgn/patchtrack/model"
	"github.com/dhcgn/patchtrack/runner"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	// BatchSize bounds how many messages one FETCH command requests.
	BatchSize uint32
}

// Fetcher reads every message of an IMAP folder and feeds the decoded
// messages into a runner.
type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

func NewFetcher(opts Options, r *runner.Runner, logger *slog.Logger) (*Fetcher, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 100
	}
	fetcher := &Fetcher{opts: opts, logger: logger}
	if r != nil {
		r.AddSource("imap", fetcher.Stream)
	}
	return fetcher, nil
}

// Stream fetches the full body of each message in the folder, in sequence
// order, and writes one envelope per message.
func (f *Fetcher) Stream(ctx context.Context, out chan<- model.Envelope) error {
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return f.emitError(ctx, out, err)
	}
	defer cleanup()

	selected, err := client.Select(f.folder(), &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return f.emitError(ctx, out, fmt.Errorf("select %s: %w", f.folder(), err))
	}
	if f.logger != nil {
		f.logger.Info("imap folder selected", "folder", f.folder(), "messages", selected.NumMessages)
	}

	for start := uint32(1); start <= selected.NumMessages; start += f.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := min(start+f.opts.BatchSize-1, selected.NumMessages)
		if err := f.fetchRange(ctx, client, start, stop, out); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) fetchRange(ctx context.Context, client *imapclient.Client, start, stop uint32, out chan<- model.Envelope) error {
	var seqSet imapv2.SeqSet
	seqSet.AddRange(start, stop)

	section := &imapv2.FetchItemBodySection{Peek: true}
	msgs, err := client.Fetch(seqSet, &imapv2.FetchOptions{
		BodySection: []*imapv2.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return f.emitError(ctx, out, fmt.Errorf("fetch %d:%d: %w", start, stop, err))
	}

	for _, buf := range msgs {
		raw := buf.FindBodySection(section)
		if raw == nil {
			if f.logger != nil {
				f.logger.Warn("imap message without body", "seq", buf.SeqNum)
			}
			continue
		}

		msg := mbox.Decode(raw)
		if f.logger != nil {
			f.logger.Debug("decoded message", "seq", buf.SeqNum, "messageID", msg.ID, "subject", msg.Subject)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- model.Envelope{Message: msg}:
		}
	}
	return nil
}

func (f *Fetcher) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Error("imap fetch error", "host", f.opts.Host, "folder", f.folder(), "err", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- model.Envelope{Err: err}:
		return nil
	}
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "folder", f.folder(), "tls", f.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && f.logger != nil {
				f.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && f.logger != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (f *Fetcher) folder() string {
	if f.opts.Folder == "" {
		return "INBOX"
	}
	return f.opts.Folder
}
