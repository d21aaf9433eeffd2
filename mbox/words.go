package mbox

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/htmlindex"
)

var encodedWordPattern = regexp.MustCompile(`=\?[^?\s]+\?[bBqQ]\?[^?\s]*\?=`)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// decodeWords decodes every RFC 2047 encoded word in value. Whitespace that
// only separates two decoded words is dropped; words that cannot be decoded
// are kept verbatim.
func decodeWords(value string) string {
	matches := encodedWordPattern.FindAllStringIndex(value, -1)
	if len(matches) == 0 {
		return value
	}

	var (
		sb          strings.Builder
		last        int
		prevDecoded bool
	)
	for _, m := range matches {
		gap := value[last:m[0]]
		word := value[m[0]:m[1]]

		decoded, err := wordDecoder.Decode(word)
		if err != nil {
			sb.WriteString(gap)
			sb.WriteString(word)
			prevDecoded = false
			last = m[1]
			continue
		}

		if !(prevDecoded && strings.TrimSpace(gap) == "") {
			sb.WriteString(gap)
		}
		sb.WriteString(decoded)
		prevDecoded = true
		last = m[1]
	}
	sb.WriteString(value[last:])

	return sb.String()
}

// charsetReader resolves MIME charset labels through go-message's table
// first and the WHATWG label index second.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	r, err := charset.Reader(label, input)
	if err == nil {
		return r, nil
	}
	enc, idxErr := htmlindex.Get(label)
	if idxErr != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// decodeCharset converts data from label to UTF-8. Unknown labels and
// conversion failures leave the bytes untouched.
func decodeCharset(data []byte, label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return string(data)
	}

	r, err := charsetReader(label, bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data)
	}
	return string(out)
}
