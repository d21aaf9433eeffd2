package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dhcgn/patchtrack/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool

	mu   sync.Mutex
	hits map[*regexp.Regexp]int
}

// Stats reports how often each configured pattern matched.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeHeaderHits     map[string]int
	IncludeBodyPatterns   []string
	IncludeBodyHits       map[string]int
	ExcludeHeaderPatterns []string
	ExcludeHeaderHits     map[string]int
	ExcludeBodyPatterns   []string
	ExcludeBodyHits       map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
		hits:           make(map[*regexp.Regexp]int),
	}, nil
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = string(header)
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	if f.includeMode {
		headerMatched := f.matchAny(f.includeHeader, headerText)
		bodyMatched := f.matchAny(f.includeBody, bodyText)
		return headerMatched || bodyMatched
	}

	if f.excludeMode {
		headerMatched := f.matchAny(f.excludeHeader, headerText)
		bodyMatched := f.matchAny(f.excludeBody, bodyText)
		if headerMatched || bodyMatched {
			return false
		}
	}

	return true
}

// AllowsMessage applies the filter to a decoded message. Header patterns
// see one "Key: Value" line per header, body patterns the decoded body.
func (f *Filter) AllowsMessage(msg model.Message) bool {
	if !f.includeMode && !f.excludeMode {
		return true
	}

	var header []byte
	if f.needHeaderText {
		header = []byte(FormatHeaders(msg))
	}
	var body []byte
	if f.needBodyText {
		body = []byte(msg.Body)
	}
	return f.Allows(header, body)
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// FormatHeaders renders the decoded header fields of msg, one per line.
func FormatHeaders(msg model.Message) string {
	var sb strings.Builder
	writeHeader := func(key, value string) {
		if value == "" {
			return
		}
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	writeHeader("From", msg.From)
	writeHeader("To", msg.To)
	writeHeader("Cc", strings.Join(msg.Cc, ", "))
	writeHeader("Subject", msg.Subject)
	for _, h := range msg.Headers {
		writeHeader(h.Key, h.Value)
	}
	return sb.String()
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// matchAny reports whether any pattern matches text, counting a hit for
// every pattern that does.
func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	matched := false
	for _, re := range patterns {
		if re.MatchString(text) {
			f.mu.Lock()
			f.hits[re]++
			f.mu.Unlock()
			matched = true
		}
	}
	return matched
}

// GetStats returns a snapshot of the pattern hit counts.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	collect := func(patterns []*regexp.Regexp) ([]string, map[string]int) {
		names := make([]string, 0, len(patterns))
		hits := make(map[string]int, len(patterns))
		for _, re := range patterns {
			names = append(names, re.String())
			hits[re.String()] += f.hits[re]
		}
		return names, hits
	}

	var st Stats
	st.IncludeHeaderPatterns, st.IncludeHeaderHits = collect(f.includeHeader)
	st.IncludeBodyPatterns, st.IncludeBodyHits = collect(f.includeBody)
	st.ExcludeHeaderPatterns, st.ExcludeHeaderHits = collect(f.excludeHeader)
	st.ExcludeBodyPatterns, st.ExcludeBodyHits = collect(f.excludeBody)
	return st
}
