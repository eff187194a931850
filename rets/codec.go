package rets

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"rentcomps/models"
)

// Reply codes with special meaning.
const (
	ReplySuccess   = 0
	ReplyNoRecords = 20201
)

var (
	replyCodeRegexp = regexp.MustCompile(`(?i)ReplyCode\s*=\s*"(\d+)"`)
	replyTextRegexp = regexp.MustCompile(`(?i)ReplyText\s*=\s*"([^"]*)"`)
)

// Condition is one parenthesized DMQL2 term such as (BedroomsTotal=2-4).
type Condition struct {
	Field string
	Value string
}

// Equals matches a single value.
func Equals(field, value string) Condition {
	return Condition{Field: field, Value: value}
}

// Range matches low through high inclusive.
func Range(field string, low, high int) Condition {
	return Condition{Field: field, Value: fmt.Sprintf("%d-%d", low, high)}
}

// OneOf matches any of the lookup values.
func OneOf(field string, values ...string) Condition {
	return Condition{Field: field, Value: "|" + strings.Join(values, ",")}
}

// AtLeast matches values greater than or equal to value.
func AtLeast(field, value string) Condition {
	return Condition{Field: field, Value: value + "+"}
}

func (c Condition) String() string {
	return "(" + c.Field + "=" + c.Value + ")"
}

// BuildQuery joins conditions into a conjunctive DMQL2 query.
func BuildQuery(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

// Reply is the protocol status embedded in a response body.
type Reply struct {
	Code  int
	Text  string
	Found bool
}

// ParseReply extracts ReplyCode and ReplyText. A body without a reply code
// yields Found=false and Code=ReplySuccess.
func ParseReply(body string) Reply {
	var r Reply
	m := replyCodeRegexp.FindStringSubmatch(body)
	if len(m) < 2 {
		return r
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return r
	}
	r.Code = code
	r.Found = true
	if t := replyTextRegexp.FindStringSubmatch(body); len(t) >= 2 {
		r.Text = t[1]
	}
	return r
}

// Table is a parsed COMPACT or COMPACT-DECODED payload.
type Table struct {
	Delimiter byte
	Columns   []string
	Rows      []models.RawRecord
	Count     int
	HasCount  bool
}

type header struct {
	delimiter byte
	columns   []string
	count     int
	hasCount  bool
	end       int
}

// ParseCompact parses a tabular search response in two stages: a header
// scan producing the delimiter and column schema, then a row scan applying
// that schema to every DATA block.
//
// A missing or empty COLUMNS block, or an undecodable delimiter, returns a
// nil table and an error wrapping ErrMalformedResponse. An unterminated DATA
// block returns the rows completed before it together with such an error.
func ParseCompact(body string) (*Table, error) {
	lower := asciiLower(body)

	h, err := scanHeader(body, lower)
	if err != nil {
		return nil, err
	}

	t := &Table{
		Delimiter: h.delimiter,
		Columns:   h.columns,
		Count:     h.count,
		HasCount:  h.hasCount,
		Rows:      make([]models.RawRecord, 0),
	}
	err = scanRows(body, lower, h, t)
	return t, err
}

func scanHeader(body, lower string) (header, error) {
	h := header{delimiter: '\t'}

	if attrs, ok := tagAttrs(body, lower, "delimiter"); ok {
		v, found := attrValue(attrs, "value")
		if !found || v == "" {
			return h, fmt.Errorf("%w: DELIMITER without value", ErrMalformedResponse)
		}
		n, err := strconv.ParseUint(v, 16, 8)
		if err != nil {
			return h, fmt.Errorf("%w: undecodable delimiter %q", ErrMalformedResponse, v)
		}
		h.delimiter = byte(n)
	}

	if attrs, ok := tagAttrs(body, lower, "count"); ok {
		if v, found := attrValue(attrs, "records"); found {
			if n, err := strconv.Atoi(v); err == nil {
				h.count = n
				h.hasCount = true
			}
		}
	}

	inner, end, state := block(body, lower, "columns", 0)
	switch state {
	case blockMissing:
		return h, fmt.Errorf("%w: no COLUMNS block", ErrMalformedResponse)
	case blockUnterminated:
		return h, fmt.Errorf("%w: unterminated COLUMNS block", ErrMalformedResponse)
	}

	for _, col := range strings.Split(inner, string(h.delimiter)) {
		col = strings.TrimSpace(col)
		if col != "" {
			h.columns = append(h.columns, col)
		}
	}
	if len(h.columns) == 0 {
		return h, fmt.Errorf("%w: empty COLUMNS block", ErrMalformedResponse)
	}
	h.end = end
	return h, nil
}

func scanRows(body, lower string, h header, t *Table) error {
	delim := string(h.delimiter)
	pos := h.end
	for {
		inner, end, state := block(body, lower, "data", pos)
		switch state {
		case blockMissing:
			return nil
		case blockUnterminated:
			return fmt.Errorf("%w: unterminated DATA block after %d rows", ErrMalformedResponse, len(t.Rows))
		}
		pos = end

		values := strings.Split(inner, delim)
		if len(values) > 0 && values[0] == "" {
			values = values[1:]
		}
		if len(values) > 0 && values[len(values)-1] == "" {
			values = values[:len(values)-1]
		}

		row := make(models.RawRecord, len(h.columns))
		for i, col := range h.columns {
			if i < len(values) {
				row[col] = values[i]
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

// asciiLower folds A-Z only, so offsets found in the result index the
// original string. Feeds are often Latin-1, which strings.ToLower would
// widen into U+FFFD.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

type blockState int

const (
	blockFound blockState = iota
	blockMissing
	blockUnterminated
)

// block returns the text between <name> and </name>, searching from pos,
// and the offset just past the closing tag.
func block(body, lower, name string, pos int) (string, int, blockState) {
	open := "<" + name + ">"
	closing := "</" + name + ">"

	start := strings.Index(lower[pos:], open)
	if start < 0 {
		return "", pos, blockMissing
	}
	start += pos + len(open)

	stop := strings.Index(lower[start:], closing)
	if stop < 0 {
		return "", len(body), blockUnterminated
	}
	stop += start
	return body[start:stop], stop + len(closing), blockFound
}

// tagAttrs returns the attribute text of the first <name ...> tag.
func tagAttrs(body, lower, name string) (string, bool) {
	open := "<" + name
	idx := strings.Index(lower, open)
	for idx >= 0 {
		after := idx + len(open)
		if after < len(lower) && (lower[after] == ' ' || lower[after] == '\t' || lower[after] == '/' || lower[after] == '>') {
			end := strings.IndexByte(lower[after:], '>')
			if end < 0 {
				return "", false
			}
			return body[after : after+end], true
		}
		next := strings.Index(lower[after:], open)
		if next < 0 {
			return "", false
		}
		idx = after + next
	}
	return "", false
}

// attrValue reads name="value" (or single-quoted) from an attribute string.
func attrValue(attrs, name string) (string, bool) {
	lower := asciiLower(attrs)
	name = asciiLower(name)
	idx := strings.Index(lower, name)
	for idx >= 0 {
		rest := strings.TrimLeft(attrs[idx+len(name):], " \t")
		if strings.HasPrefix(rest, "=") {
			rest = strings.TrimLeft(rest[1:], " \t")
			if rest == "" {
				return "", false
			}
			q := rest[0]
			if q != '"' && q != '\'' {
				return "", false
			}
			end := strings.IndexByte(rest[1:], q)
			if end < 0 {
				return "", false
			}
			return rest[1 : 1+end], true
		}
		next := strings.Index(lower[idx+len(name):], name)
		if next < 0 {
			return "", false
		}
		idx = idx + len(name) + next
	}
	return "", false
}

// Capability names a RETS transaction endpoint.
type Capability string

const (
	CapSearch      Capability = "Search"
	CapGetObject   Capability = "GetObject"
	CapLogout      Capability = "Logout"
	CapGetMetadata Capability = "GetMetadata"
)

var knownCapabilities = []Capability{CapSearch, CapGetObject, CapLogout, CapGetMetadata}

// Capabilities maps capability names to absolute URLs. It is resolved once
// per login and not modified afterwards.
type Capabilities map[Capability]string

// ParseCapabilities reads key=value lines from a login response body.
// Relative URLs are resolved against the origin of loginURL.
func ParseCapabilities(body, loginURL string) (Capabilities, error) {
	base, err := url.Parse(loginURL)
	if err != nil {
		return nil, fmt.Errorf("parse login url: %w", err)
	}
	origin := base.Scheme + "://" + base.Host

	caps := make(Capabilities)
	for _, line := range strings.Split(body, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		for _, c := range knownCapabilities {
			if !strings.EqualFold(key, string(c)) {
				continue
			}
			if _, seen := caps[c]; seen {
				break
			}
			caps[c] = resolveCapability(origin, value)
		}
	}
	return caps, nil
}

func resolveCapability(origin, value string) string {
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return value
	}
	return origin + "/" + strings.TrimLeft(value, "/")
}
