package state

import (
	"context"
	"strings"

	"github.com/dhcgn/patchtrack/model"
)

// Options selects a store backend. RedisAddr wins over Dir; with neither
// set the store lives in memory.
type Options struct {
	Dir         string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string
	// Persist controls whether the file backend appends to its log.
	Persist bool
}

func Open(ctx context.Context, opts Options) (Store, error) {
	switch {
	case strings.TrimSpace(opts.RedisAddr) != "":
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisDB, opts.RedisPrefix)
	case strings.TrimSpace(opts.Dir) != "":
		return NewFileStore(opts.Dir, opts.Persist)
	default:
		return NewMemoryStore(), nil
	}
}

// MessageKey is the record key for a decoded message. Messages without a
// Message-Id are keyed by their content hash.
func MessageKey(msg model.Message) string {
	if msg.ID != "" {
		return "mail:" + msg.ID
	}
	return "mail:sha256:" + msg.Hash
}

// CommitKey is the record key for the integration of a commit.
func CommitKey(commit string) string {
	return "commit:" + commit
}
