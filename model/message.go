package model

import (
	"strings"
	"time"
)

// Header is a single header line that the decoder does not map onto a
// dedicated Message field.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Message is a mail message decoded from a single mbox entry.
type Message struct {
	ID      string    `json:"id,omitempty"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Cc      []string  `json:"cc"`
	Subject string    `json:"subject"`
	Headers []Header  `json:"headers"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date,omitempty"`
	Hash    string    `json:"hash,omitempty"`
	Size    int64     `json:"size,omitempty"`
	Raw     []byte    `json:"-"`
}

// Header returns the first value recorded for key, compared case-insensitively.
func (m Message) Header(key string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// Envelope wraps a message alongside an optional error encountered while reading it.
type Envelope struct {
	Message Message
	Err     error
	// Source names the producer; the runner sets it.
	Source string
}
