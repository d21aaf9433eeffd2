package mbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/patchtrack/model"
)

const series = `From 1111111111111111111111111111111111111111 Mon Sep 17 00:00:00 2001
Message-Id: <series.0@example.com>
From: Patch Author <author@example.com>
Subject: [PATCH 0/2] cover letter

cover
From 2222222222222222222222222222222222222222 Mon Sep 17 00:00:00 2001
Message-Id: <series.1@example.com>
From: Patch Author <author@example.com>
Subject: [PATCH 1/2] first
Content-Transfer-Encoding: quoted-printable

caf=C3=A9
From 3333333333333333333333333333333333333333 Mon Sep 17 00:00:00 2001
Message-Id: <series.2@example.com>
From: =?utf-8?q?Patch_Author?= <author@example.com>
Subject: [PATCH 2/2] second

>From the archive, escaped
`

func collect(t *testing.T, reader Reader) ([]model.Message, []error) {
	t.Helper()
	out := make(chan model.Envelope, 10)
	done := make(chan error, 1)
	go func() {
		done <- reader.Stream(context.Background(), out)
		close(out)
	}()

	var (
		msgs []model.Message
		errs []error
	)
	for env := range out {
		if env.Err != nil {
			errs = append(errs, env.Err)
			continue
		}
		msgs = append(msgs, env.Message)
	}
	require.NoError(t, <-done)
	return msgs, errs
}

func TestStream_Input(t *testing.T) {
	reader, err := NewReader(Options{Input: strings.NewReader(series)}, nil)
	require.NoError(t, err)

	msgs, errs := collect(t, reader)
	require.Empty(t, errs)
	require.Len(t, msgs, 3)

	assert.Equal(t, "series.0@example.com", msgs[0].ID)
	assert.Equal(t, "[PATCH 1/2] first", msgs[1].Subject)
	assert.Equal(t, "café", strings.TrimSpace(msgs[1].Body))
	assert.Equal(t, "Patch Author <author@example.com>", msgs[2].From)
	assert.Contains(t, msgs[2].Body, "From the archive")
}

func TestStream_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.mbox")
	require.NoError(t, os.WriteFile(path, []byte(series), 0o600))

	reader, err := NewReader(Options{Path: path}, nil)
	require.NoError(t, err)
	msgs, errs := collect(t, reader)
	require.Empty(t, errs)
	assert.Len(t, msgs, 3)

	n, err := CountMessages(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var subjects []string
	require.NoError(t, Read(path, func(msg model.Message) error {
		subjects = append(subjects, msg.Subject)
		return nil
	}))
	assert.Equal(t, []string{"[PATCH 0/2] cover letter", "[PATCH 1/2] first", "[PATCH 2/2] second"}, subjects)
}

func TestStream_MissingFile(t *testing.T) {
	reader, err := NewReader(Options{Path: filepath.Join(t.TempDir(), "missing.mbox")}, nil)
	require.NoError(t, err)

	msgs, errs := collect(t, reader)
	assert.Empty(t, msgs)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], os.ErrNotExist)
}

func TestStream_Cancelled(t *testing.T) {
	reader, err := NewReader(Options{Input: strings.NewReader(series)}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = reader.Stream(ctx, make(chan model.Envelope))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewReader_RequiresInput(t *testing.T) {
	_, err := NewReader(Options{Path: "  "}, nil)
	assert.Error(t, err)
}

func TestReadFrom_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadFrom(strings.NewReader(series), func(model.Message) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
