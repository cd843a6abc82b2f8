// Package guard keeps sensitive terminal text from leaving the process.
//
// Detection combines a fixed table of signature prefixes (API keys, PEM
// private keys, database URLs) with a heuristic over NAME=value
// assignment lines whose NAME looks secret. Redact replaces every
// detected span with a fixed label and is idempotent.
package guard

import (
	"sort"
	"strings"

	"github.com/ccastromar/termai/internal/metrics"
)

// SecretKind classifies a detected secret.
type SecretKind string

const (
	KindAPIKey      SecretKind = "api_key"
	KindPrivateKey  SecretKind = "private_key"
	KindDatabaseURL SecretKind = "database_url"
	KindAssignment  SecretKind = "env_assignment"
)

// Label replaces every redacted span.
const Label = "[REDACTED]"

// DefaultMaxSpan bounds the length of a single detected span. Longer
// unbroken runs are covered by consecutive spans.
const DefaultMaxSpan = 4096

// maxPasses bounds how often Redact rescans its own output.
const maxPasses = 8

// DetectedSecret is a byte span of text holding a secret.
type DetectedSecret struct {
	Kind  SecretKind
	Start int
	End   int
	Text  string
}

type signature struct {
	prefix   string
	kind     SecretKind
	minBody  int
	foldCase bool
	body     func(byte) bool
}

var defaultSignatures = []signature{
	// OpenAI / Anthropic / Cerebras / Groq style keys
	{prefix: "sk-ant-", kind: KindAPIKey, minBody: 8},
	{prefix: "sk-proj-", kind: KindAPIKey, minBody: 8},
	{prefix: "sk-", kind: KindAPIKey, minBody: 8},
	{prefix: "csk-", kind: KindAPIKey, minBody: 8},
	{prefix: "gsk_", kind: KindAPIKey, minBody: 8},
	{prefix: "hf_", kind: KindAPIKey, minBody: 8},
	// AWS access key ids
	{prefix: "AKIA", kind: KindAPIKey, minBody: 16, body: isUpperAlnum},
	{prefix: "ASIA", kind: KindAPIKey, minBody: 16, body: isUpperAlnum},
	// GitHub / GitLab
	{prefix: "github_pat_", kind: KindAPIKey, minBody: 8},
	{prefix: "ghp_", kind: KindAPIKey, minBody: 8},
	{prefix: "gho_", kind: KindAPIKey, minBody: 8},
	{prefix: "ghs_", kind: KindAPIKey, minBody: 8},
	{prefix: "ghu_", kind: KindAPIKey, minBody: 8},
	{prefix: "ghr_", kind: KindAPIKey, minBody: 8},
	{prefix: "glpat-", kind: KindAPIKey, minBody: 8},
	// Slack
	{prefix: "xoxb-", kind: KindAPIKey, minBody: 8},
	{prefix: "xoxp-", kind: KindAPIKey, minBody: 8},
	{prefix: "xoxa-", kind: KindAPIKey, minBody: 8},
	{prefix: "xoxr-", kind: KindAPIKey, minBody: 8},
	// Google, Stripe, npm
	{prefix: "AIza", kind: KindAPIKey, minBody: 16},
	{prefix: "sk_live_", kind: KindAPIKey, minBody: 8},
	{prefix: "rk_live_", kind: KindAPIKey, minBody: 8},
	{prefix: "npm_", kind: KindAPIKey, minBody: 16},
	// database URLs
	{prefix: "postgres://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "postgresql://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "mysql://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "mongodb://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "mongodb+srv://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "redis://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "rediss://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "amqp://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "amqps://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "mssql://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
	{prefix: "sqlserver://", kind: KindDatabaseURL, minBody: 3, foldCase: true},
}

var defaultIndicators = []string{
	"PASSWORD", "PASSWD", "TOKEN", "API_KEY", "APIKEY", "SECRET",
	"CREDENTIAL", "AUTH", "ACCESS_KEY", "PRIVATE_KEY",
}

const (
	pemBegin = "-----BEGIN "
	pemEnd   = "-----END "
	pemDash  = "-----"
)

// Redactor detects and masks secrets. The zero value is not usable;
// build one with NewRedactor.
type Redactor struct {
	signatures []signature
	indicators []string
	maxSpan    int
	first      [256]bool
}

type Option func(*Redactor)

// WithMaxSpan overrides DefaultMaxSpan.
func WithMaxSpan(n int) Option {
	return func(r *Redactor) {
		if n > 0 {
			r.maxSpan = n
		}
	}
}

// WithSignature adds a case-sensitive key prefix to the signature table.
func WithSignature(prefix string, minBody int) Option {
	return func(r *Redactor) {
		if prefix != "" {
			r.signatures = append(r.signatures, signature{prefix: prefix, kind: KindAPIKey, minBody: max(minBody, 0)})
		}
	}
}

// WithIndicator adds a NAME substring that marks an assignment as secret.
func WithIndicator(s string) Option {
	return func(r *Redactor) {
		if s != "" {
			r.indicators = append(r.indicators, strings.ToUpper(s))
		}
	}
}

func NewRedactor(opts ...Option) *Redactor {
	r := &Redactor{
		signatures: append([]signature(nil), defaultSignatures...),
		indicators: append([]string(nil), defaultIndicators...),
		maxSpan:    DefaultMaxSpan,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, s := range r.signatures {
		c := s.prefix[0]
		r.first[c] = true
		if s.foldCase {
			r.first[toLower(c)] = true
			r.first[toUpper(c)] = true
		}
	}
	return r
}

var defaultRedactor = NewRedactor()

// DetectSecrets reports secrets in text using the default Redactor.
func DetectSecrets(text string) []DetectedSecret { return defaultRedactor.DetectSecrets(text) }

// Redact masks secrets in text using the default Redactor.
func Redact(text string) string { return defaultRedactor.Redact(text) }

// ContainsSecrets reports whether text holds any detectable secret.
func ContainsSecrets(text string) bool { return defaultRedactor.ContainsSecrets(text) }

// DetectSecrets returns the detected spans sorted by start offset.
// Overlapping detections are merged, so spans never overlap.
func (r *Redactor) DetectSecrets(text string) []DetectedSecret {
	if text == "" {
		return nil
	}
	var found []DetectedSecret
	found = r.scanPEM(text, found)
	found = r.scanSignatures(text, found)
	found = r.scanAssignments(text, found)
	return merge(text, found)
}

func (r *Redactor) ContainsSecrets(text string) bool {
	return len(r.DetectSecrets(text)) > 0
}

// Redact returns a copy of text with each secret replaced by Label.
// Contiguous spans collapse into a single label. The output is scanned
// again until it holds no secret, so Redact(Redact(s)) == Redact(s).
func (r *Redactor) Redact(text string) string {
	for range maxPasses {
		spans := r.DetectSecrets(text)
		if len(spans) == 0 {
			break
		}
		text = replaceSpans(text, spans)
	}
	return text
}

func replaceSpans(text string, spans []DetectedSecret) string {
	var b strings.Builder
	b.Grow(len(text))
	last, prevEnd := 0, -1
	for _, s := range spans {
		if s.Start != prevEnd {
			b.WriteString(text[last:s.Start])
			b.WriteString(Label)
		}
		last, prevEnd = s.End, s.End
		metrics.Redactions.Inc(map[string]string{"kind": string(s.Kind)})
	}
	b.WriteString(text[last:])
	return b.String()
}

func (r *Redactor) scanSignatures(text string, out []DetectedSecret) []DetectedSecret {
	folded := asciiLower(text)
	for i := 0; i < len(text); {
		if !r.first[text[i]] || !atBoundary(text, i) {
			i++
			continue
		}
		if end, kind, ok := r.matchSignature(text, folded, i); ok {
			out = r.appendBounded(out, kind, text, i, end)
			i = end
			continue
		}
		i++
	}
	return out
}

func (r *Redactor) matchSignature(text, folded string, i int) (int, SecretKind, bool) {
	for _, s := range r.signatures {
		src := text
		if s.foldCase {
			src = folded
		}
		if !strings.HasPrefix(src[i:], s.prefix) {
			continue
		}
		end := isTokenEnd
		if s.kind == KindDatabaseURL {
			end = isURLEnd
		}
		j := i + len(s.prefix)
		k := j
		for k < len(text) && !end(text[k]) {
			k++
		}
		if k-j < s.minBody || !validBody(s, text[j:j+s.minBody]) {
			continue
		}
		return k, s.kind, true
	}
	return 0, "", false
}

// validBody checks the leading body bytes of a signature. The span itself
// always runs to the end of the token.
func validBody(s signature, lead string) bool {
	if s.body == nil {
		return true
	}
	for i := 0; i < len(lead); i++ {
		if !s.body(lead[i]) {
			return false
		}
	}
	return true
}

// scanPEM finds private key blocks anywhere in text, including inside a
// longer token.
func (r *Redactor) scanPEM(text string, out []DetectedSecret) []DetectedSecret {
	for i := 0; i < len(text); {
		idx := strings.Index(text[i:], pemBegin)
		if idx < 0 {
			break
		}
		start := i + idx
		if end, ok := pemBlockEnd(text, start); ok {
			out = r.appendBounded(out, KindPrivateKey, text, start, end)
			i = end
			continue
		}
		i = start + 1
	}
	return out
}

// pemBlockEnd recognises a PEM private key starting at i. A block with
// no END marker runs to the end of text.
func pemBlockEnd(text string, i int) (int, bool) {
	if !strings.HasPrefix(text[i:], pemBegin) {
		return 0, false
	}
	hdr := i + len(pemBegin)
	closing := strings.Index(text[hdr:], pemDash)
	if closing < 0 {
		return 0, false
	}
	label := text[hdr : hdr+closing]
	if !strings.Contains(label, "PRIVATE KEY") || strings.ContainsAny(label, "\r\n") {
		return 0, false
	}
	body := hdr + closing + len(pemDash)

	if idx := strings.Index(text[body:], pemEnd+label+pemDash); idx >= 0 {
		return body + idx + len(pemEnd) + len(label) + len(pemDash), true
	}
	if idx := strings.Index(text[body:], pemEnd); idx >= 0 {
		tail := body + idx + len(pemEnd)
		if c := strings.Index(text[tail:], pemDash); c >= 0 {
			return tail + c + len(pemDash), true
		}
	}
	return len(text), true
}

func (r *Redactor) scanAssignments(text string, out []DetectedSecret) []DetectedSecret {
	for lineStart := 0; lineStart < len(text); {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		if start, end, ok := r.assignmentValue(text, lineStart, lineEnd); ok {
			out = r.appendBounded(out, KindAssignment, text, start, end)
		}
		lineStart = lineEnd + 1
	}
	return out
}

// assignmentValue finds the value span of `[export ]NAME=value` within
// text[lo:hi] when NAME looks secret.
func (r *Redactor) assignmentValue(text string, lo, hi int) (int, int, bool) {
	if hi > lo && text[hi-1] == '\r' {
		hi--
	}
	p := skipBlank(text, lo, hi)
	if strings.HasPrefix(text[p:hi], "export") && p+6 < hi && (text[p+6] == ' ' || text[p+6] == '\t') {
		p = skipBlank(text, p+6, hi)
	}

	nameStart := p
	if p >= hi || !isNameStart(text[p]) {
		return 0, 0, false
	}
	for p < hi && isNameChar(text[p]) {
		p++
	}
	if p >= hi || text[p] != '=' {
		return 0, 0, false
	}
	if !r.secretName(text[nameStart:p]) {
		return 0, 0, false
	}

	v := p + 1
	if v >= hi {
		return 0, 0, false
	}
	var start, end int
	if q := text[v]; q == '"' || q == '\'' {
		start = v + 1
		end = hi
		if c := strings.IndexByte(text[start:hi], q); c >= 0 {
			end = start + c
		}
	} else {
		start, end = v, v
		for end < hi && !isValueEnd(text[end]) {
			end++
		}
	}
	if end <= start || strings.HasPrefix(text[start:end], Label) {
		return 0, 0, false
	}
	return start, end, true
}

func (r *Redactor) secretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, ind := range r.indicators {
		if strings.Contains(upper, ind) {
			return true
		}
	}
	return false
}

func (r *Redactor) appendBounded(out []DetectedSecret, kind SecretKind, text string, start, end int) []DetectedSecret {
	for s := start; s < end; s += r.maxSpan {
		e := min(s+r.maxSpan, end)
		out = append(out, DetectedSecret{Kind: kind, Start: s, End: e, Text: text[s:e]})
	}
	return out
}

func merge(text string, spans []DetectedSecret) []DetectedSecret {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Start < last.End {
			if s.End > last.End {
				last.End = s.End
				last.Text = text[last.Start:last.End]
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func atBoundary(text string, i int) bool {
	return i == 0 || !isNameChar(text[i-1])
}

func skipBlank(text string, p, hi int) int {
	for p < hi && (text[p] == ' ' || text[p] == '\t') {
		p++
	}
	return p
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// isValueEnd ends an unquoted shell word: blanks and command separators.
func isValueEnd(c byte) bool {
	switch c {
	case ';', '&', '|', '<', '>', '`':
		return true
	}
	return isSpace(c)
}

// isTokenEnd ends a key token. Quotes and parentheses also close it,
// brackets and braces do not.
func isTokenEnd(c byte) bool {
	switch c {
	case '"', '\'', '(', ')':
		return true
	}
	return isValueEnd(c)
}

// isURLEnd ends a database URL, whose query part may hold & and ;.
func isURLEnd(c byte) bool {
	switch c {
	case '"', '\'', '`', '<', '>':
		return true
	}
	return isSpace(c)
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func isUpperAlnum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// asciiLower folds A-Z only, keeping byte offsets identical to text.
func asciiLower(text string) string {
	b := []byte(text)
	for i, c := range b {
		b[i] = toLower(c)
	}
	return string(b)
}
