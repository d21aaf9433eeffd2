package mbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	"github.com/dhcgn/patchtrack/model"
)

// Decode turns one raw mbox entry into a model.Message. It never fails:
// undecodable fragments are kept as literal text and a message without a
// blank line between header and body yields an empty body.
//
// Continuation lines are unfolded by trimming their leading whitespace and
// joining them to the previous value with exactly one space.
func Decode(raw []byte) model.Message {
	header, body := splitRawMessage(stripEnvelope(raw))

	msg := model.Message{
		Cc:      []string{},
		Headers: []model.Header{},
		Size:    int64(len(raw)),
		Raw:     raw,
	}

	sum := sha256.Sum256(raw)
	msg.Hash = base64.StdEncoding.EncodeToString(sum[:])

	var (
		seenFrom, seenTo, seenSubject bool
		encoding, contentType         string
	)
	for _, h := range parseHeaders(header) {
		switch strings.ToLower(h.Key) {
		case "from":
			if !seenFrom {
				msg.From = decodeWords(h.Value)
				seenFrom = true
			}
			continue
		case "to":
			if !seenTo {
				msg.To = h.Value
				seenTo = true
			}
			continue
		case "cc":
			msg.Cc = append(msg.Cc, splitAddressList(h.Value)...)
			continue
		case "subject":
			if !seenSubject {
				msg.Subject = decodeWords(h.Value)
				seenSubject = true
			}
			continue
		case "message-id":
			if msg.ID == "" {
				msg.ID = strings.Trim(strings.TrimSpace(h.Value), "<>")
			}
		case "date":
			if msg.Date.IsZero() {
				msg.Date = parseDate(h.Value)
			}
		case "content-transfer-encoding":
			encoding = h.Value
		case "content-type":
			contentType = h.Value
		}
		msg.Headers = append(msg.Headers, h)
	}

	msg.Body = decodeBody(body, encoding, contentType)
	return msg
}

// stripEnvelope drops a leading "From <hash> <date>" separator line.
func stripEnvelope(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("From ")) {
		return raw
	}
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return nil
	}
	return raw[idx+1:]
}

func splitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	// A message may open directly with its body separator.
	if bytes.HasPrefix(raw, []byte("\r\n")) {
		return nil, raw[2:]
	}
	if raw[0] == '\n' {
		return nil, raw[1:]
	}

	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf], raw[lf+2:]
	}

	return raw, nil
}

// parseHeaders splits a header block into logical header lines.
func parseHeaders(block []byte) []model.Header {
	var (
		headers []model.Header
		current strings.Builder
		active  bool
	)

	flush := func() {
		if !active {
			return
		}
		active = false
		line := current.String()
		current.Reset()

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		headers = append(headers, model.Header{
			Key:   key,
			Value: strings.TrimLeft(value, " \t"),
		})
	}

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if active {
				current.WriteByte(' ')
				current.WriteString(strings.TrimLeft(line, " \t"))
			}
			continue
		}
		flush()
		current.WriteString(line)
		active = true
	}
	flush()

	return headers
}

// splitAddressList splits a recipient list on commas that are neither
// inside a quoted display name nor inside an angle-bracket address.
func splitAddressList(value string) []string {
	var (
		out     []string
		start   int
		quoted  bool
		escaped bool
		depth   int
	)

	add := func(part string) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '<':
			depth++
		case c == '>' && depth > 0:
			depth--
		case c == ',' && depth == 0:
			add(value[start:i])
			start = i + 1
		}
	}
	add(value[start:])

	return out
}

func parseDate(value string) time.Time {
	t, err := mail.ParseDate(strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return t
}
