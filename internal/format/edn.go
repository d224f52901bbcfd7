package format

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// WriteEDN writes v as EDN. Map keys become kebab-case keywords and RFC 3339
// timestamps become #inst literals.
func WriteEDN(w io.Writer, v any, pretty bool) error {
	x, err := generic(v)
	if err != nil {
		return err
	}
	e := &ednWriter{pretty: pretty}
	e.value(x, 0)
	e.b.WriteByte('\n')
	_, err = io.WriteString(w, e.b.String())
	return err
}

type ednWriter struct {
	b      strings.Builder
	pretty bool
}

func (e *ednWriter) value(v any, depth int) {
	switch t := v.(type) {
	case nil:
		e.b.WriteString("nil")
	case bool:
		e.b.WriteString(strconv.FormatBool(t))
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil && strings.Contains(t, "T") {
			e.b.WriteString(`#inst "`)
			e.b.WriteString(ts.Format(time.RFC3339Nano))
			e.b.WriteByte('"')
			return
		}
		e.b.WriteString(strconv.Quote(t))
	case float64:
		if t == float64(int64(t)) {
			e.b.WriteString(strconv.FormatInt(int64(t), 10))
		} else {
			e.b.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
		}
	case []any:
		e.b.WriteByte('[')
		for i, x := range t {
			e.sep(i, depth+1)
			e.value(x, depth+1)
		}
		e.close(len(t), depth, ']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.b.WriteByte('{')
		for i, k := range keys {
			e.sep(i, depth+1)
			e.b.WriteString(keyword(k))
			e.b.WriteByte(' ')
			e.value(t[k], depth+1)
		}
		e.close(len(keys), depth, '}')
	default:
		e.b.WriteString("nil")
	}
}

func (e *ednWriter) sep(i, depth int) {
	if e.pretty {
		e.b.WriteByte('\n')
		e.b.WriteString(strings.Repeat("  ", depth))
		return
	}
	if i > 0 {
		e.b.WriteByte(' ')
	}
}

func (e *ednWriter) close(n, depth int, c byte) {
	if e.pretty && n > 0 {
		e.b.WriteByte('\n')
		e.b.WriteString(strings.Repeat("  ", depth))
	}
	e.b.WriteByte(c)
}

// keyword turns "lastAccessed" into ":last-accessed".
func keyword(s string) string {
	var b strings.Builder
	b.WriteByte(':')
	prevLower := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case r == ' ' || r == '_':
			b.WriteByte('-')
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}
