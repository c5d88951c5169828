package logging

import (
	"fmt"
	"io"
	"strings"
)

// Mask replaces every secret in redacted output.
const Mask = "********"

// Redactor replaces known secrets in formatted log output.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor creates a redactor for the given secrets. Empty secrets are ignored.
// Each secret is also matched in its JSON escaped form, as written by the
// JSON console sink.
func NewRedactor(secrets ...string) *Redactor {
	pairs := make([]string, 0, 4*len(secrets))
	for _, s := range secrets {
		if s == "" {
			continue
		}
		if escaped := jsonEscape(s); escaped != s {
			pairs = append(pairs, escaped, Mask)
		}
		pairs = append(pairs, s, Mask)
	}
	if len(pairs) == 0 {
		return &Redactor{}
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact returns s with every secret masked.
func (r *Redactor) Redact(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}

// Wrap returns a writer that masks secrets before passing bytes to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	if r == nil || r.replacer == nil {
		return w
	}
	return &redactingWriter{r: r, w: w}
}

type redactingWriter struct {
	r *Redactor
	w io.Writer
}

// Write reports len(p) on success since the masked output may differ in length.
func (rw *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, rw.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// jsonEscape escapes s the way zerolog encodes string values.
func jsonEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20:
			fmt.Fprintf(&b, `\u00%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
