package mbox

import (
	"bytes"
	"encoding/base64"
	"mime"
	"regexp"
	"strings"
)

var charsetParamPattern = regexp.MustCompile(`(?i)charset\s*=\s*"?([^";\s]+)"?`)

// decodeBody reverses the transfer encoding of body and converts it from the
// declared charset. Unknown encodings, including none, pass the body through.
func decodeBody(body []byte, transferEncoding, contentType string) string {
	if len(body) == 0 {
		return ""
	}

	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "quoted-printable":
		return decodeCharset(decodeQuotedPrintable(body), bodyCharset(contentType))
	case "base64":
		data, ok := decodeBase64(body)
		if !ok {
			return string(body)
		}
		return decodeCharset(data, bodyCharset(contentType))
	default:
		return string(body)
	}
}

// bodyCharset extracts the charset parameter of a Content-Type value.
func bodyCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		return params["charset"]
	}
	if m := charsetParamPattern.FindStringSubmatch(contentType); m != nil {
		return m[1]
	}
	return ""
}

// decodeQuotedPrintable decodes quoted-printable text into raw bytes. It is
// lenient: an "=" that does not start a hex escape or a soft line break is
// kept as a literal character. Decoding into bytes first keeps multi-byte
// sequences that span several escapes intact.
func decodeQuotedPrintable(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c != '=' {
			out = append(out, c)
			continue
		}

		rest := src[i+1:]
		if len(rest) >= 2 && isHex(rest[0]) && isHex(rest[1]) {
			out = append(out, unhex(rest[0])<<4|unhex(rest[1]))
			i += 2
			continue
		}
		if n, ok := softBreakLen(rest); ok {
			i += n
			continue
		}
		out = append(out, c)
	}
	return out
}

// softBreakLen returns how many bytes after an "=" make up a soft line
// break, including transport padding before the line ending. A trailing
// "=" at the end of the input is a soft break as well.
func softBreakLen(rest []byte) (int, bool) {
	n := 0
	for n < len(rest) && (rest[n] == ' ' || rest[n] == '\t') {
		n++
	}
	switch {
	case bytes.HasPrefix(rest[n:], []byte("\r\n")):
		return n + 2, true
	case bytes.HasPrefix(rest[n:], []byte("\n")):
		return n + 1, true
	case n == len(rest):
		return n, true
	}
	return 0, false
}

func decodeBase64(body []byte) ([]byte, bool) {
	compact := bytes.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, body)
	if len(compact) == 0 {
		return nil, true
	}

	if data, err := base64.StdEncoding.DecodeString(string(compact)); err == nil {
		return data, true
	}
	if data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(string(compact), "=")); err == nil {
		return data, true
	}
	return nil, false
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
