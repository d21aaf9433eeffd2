package ancestry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedListing is returned when rev-list output cannot be trusted.
var ErrMalformedListing = errors.New("malformed ancestry listing")

// Entry is one line of `rev-list --parents` output.
type Entry struct {
	Commit  string
	Parents []string
}

// IsMerge reports whether the entry has more than one parent.
func (e Entry) IsMerge() bool {
	return len(e.Parents) > 1
}

// ParseListing parses `rev-list --parents` output: one commit per line,
// followed by its parents in order, separated by spaces.
func ParseListing(text string) ([]Entry, error) {
	var (
		entries []Entry
		seen    = make(map[string]int)
	)

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		for _, name := range fields {
			if !validObjectName(name) {
				return nil, fmt.Errorf("%w: line %d: invalid object name %q", ErrMalformedListing, lineNo, name)
			}
		}
		if prev, ok := seen[fields[0]]; ok {
			return nil, fmt.Errorf("%w: line %d: commit %s already listed on line %d", ErrMalformedListing, lineNo, fields[0], prev)
		}
		seen[fields[0]] = lineNo

		entries = append(entries, Entry{Commit: fields[0], Parents: fields[1:]})
	}

	return entries, nil
}

func validObjectName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return name != ""
}
