// Package pattern compiles and evaluates host and path templates used to
// select key builders and capture named path/host components.
//
// Host templates are dot-separated labels matched case-insensitively:
//
//	api.example.com
//	*.example.com
//	**.example.com
//	{subdomain}.example.com
//
// Path templates are slash-separated segments matched case-sensitively, with
// an optional trailing custom-method suffix introduced by ':':
//
//	/v1/messages/*
//	/v1/{name=messages/*}
//	/v1/{name=**}:watch
//
// A '*' matches exactly one label/segment, '**' matches zero or more and is
// only valid at the first or last position, '{name}' captures one segment,
// and '{name=sub}' captures the one-or-more segments matched by sub.
package pattern

import (
	"fmt"
	"strings"
)

// Kind selects the separator and case rules for a template.
type Kind int

const (
	// Host templates split on '.' and compare labels case-insensitively.
	Host Kind = iota
	// Path templates split on '/' and compare segments case-sensitively.
	Path
)

func (k Kind) separator() string {
	if k == Host {
		return "."
	}
	return "/"
}

type elemKind int

const (
	elemLiteral elemKind = iota
	elemStar
	elemDoubleStar
)

type element struct {
	kind    elemKind
	literal string // elemLiteral only
	capture string // capture name this element contributes to, "" if none
}

// Template is a compiled host or path pattern.
type Template struct {
	kind        Kind
	raw         string
	elems       []element
	wildcardIdx int // index of the '**' element, -1 if none

	// verb is the custom-method suffix rule for path templates.
	// nil means the input must not carry a verb; "*" accepts any verb
	// including none; anything else must match the input verb exactly.
	verb *string

	captureNames []string
}

// Compile parses and validates a template. All grammar errors (inner '**',
// duplicate capture names, unbalanced braces, empty segments) are reported
// here so invalid configuration is rejected before any request is served.
func Compile(raw string, kind Kind) (*Template, error) {
	t := &Template{kind: kind, raw: raw, wildcardIdx: -1}

	body := raw
	if kind == Path {
		body = strings.TrimPrefix(body, "/")
		var err error
		body, err = t.splitVerb(body)
		if err != nil {
			return nil, err
		}
	}
	if body == "" {
		return nil, fmt.Errorf("pattern %q: empty pattern", raw)
	}

	segments, err := splitTopLevel(body, kind.separator())
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", raw, err)
	}

	seen := make(map[string]bool)
	for _, seg := range segments {
		if err := t.compileSegment(seg, seen); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", raw, err)
		}
	}

	// '**' must sit at an edge of the flattened element list.
	for i, e := range t.elems {
		if e.kind != elemDoubleStar {
			continue
		}
		if t.wildcardIdx != -1 {
			return nil, fmt.Errorf("pattern %q: multiple '**' wildcards", raw)
		}
		if i != 0 && i != len(t.elems)-1 {
			return nil, fmt.Errorf("pattern %q: '**' is only valid at the beginning or end", raw)
		}
		t.wildcardIdx = i
	}

	return t, nil
}

// splitVerb strips a trailing ':verb' suffix from the last segment of a path
// template body and records the verb rule. The ':' is only recognized at
// brace depth zero, so a literal ':' inside a capture subpattern is left alone.
func (t *Template) splitVerb(body string) (string, error) {
	depth := 0
	lastColon := -1
	for i, r := range body {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return "", fmt.Errorf("pattern %q: unbalanced braces", t.raw)
			}
		case '/':
			if depth == 0 {
				lastColon = -1
			}
		case ':':
			if depth == 0 {
				lastColon = i
			}
		}
	}
	if lastColon == -1 {
		return body, nil
	}
	verb := body[lastColon+1:]
	if verb == "" {
		return "", fmt.Errorf("pattern %q: empty verb suffix", t.raw)
	}
	t.verb = &verb
	return body[:lastColon], nil
}

// splitTopLevel splits on sep, ignoring separators inside braces.
func splitTopLevel(s, sep string) ([]string, error) {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced braces")
			}
		case sep[0]:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced braces")
	}
	out = append(out, s[start:])
	return out, nil
}

func (t *Template) compileSegment(seg string, seen map[string]bool) error {
	switch {
	case seg == "":
		return fmt.Errorf("empty segment")
	case seg == "*":
		t.elems = append(t.elems, element{kind: elemStar})
		return nil
	case seg == "**":
		t.elems = append(t.elems, element{kind: elemDoubleStar})
		return nil
	case strings.HasPrefix(seg, "{"):
		if !strings.HasSuffix(seg, "}") {
			return fmt.Errorf("unbalanced braces in segment %q", seg)
		}
		return t.compileCapture(seg[1:len(seg)-1], seen)
	case strings.ContainsAny(seg, "{}"):
		return fmt.Errorf("unbalanced braces in segment %q", seg)
	case strings.Contains(seg, "*"):
		return fmt.Errorf("partial wildcard in segment %q", seg)
	default:
		lit := seg
		if t.kind == Host {
			lit = strings.ToLower(lit)
		}
		t.elems = append(t.elems, element{kind: elemLiteral, literal: lit})
		return nil
	}
}

func (t *Template) compileCapture(inner string, seen map[string]bool) error {
	name := inner
	sub := "*"
	if idx := strings.IndexByte(inner, '='); idx != -1 {
		name = inner[:idx]
		sub = inner[idx+1:]
	}
	if name == "" {
		return fmt.Errorf("empty capture name")
	}
	if strings.ContainsAny(name, "{}*/.") {
		return fmt.Errorf("invalid capture name %q", name)
	}
	if seen[name] {
		return fmt.Errorf("duplicate capture name %q", name)
	}
	seen[name] = true
	t.captureNames = append(t.captureNames, name)

	if sub == "" {
		return fmt.Errorf("empty subpattern for capture %q", name)
	}
	if strings.ContainsAny(sub, "{}") {
		return fmt.Errorf("nested braces in capture %q", name)
	}
	for _, part := range strings.Split(sub, t.kind.separator()) {
		switch part {
		case "":
			return fmt.Errorf("empty segment in capture %q", name)
		case "*":
			t.elems = append(t.elems, element{kind: elemStar, capture: name})
		case "**":
			t.elems = append(t.elems, element{kind: elemDoubleStar, capture: name})
		default:
			if strings.Contains(part, "*") {
				return fmt.Errorf("partial wildcard in capture %q", name)
			}
			lit := part
			if t.kind == Host {
				lit = strings.ToLower(lit)
			}
			t.elems = append(t.elems, element{kind: elemLiteral, literal: lit, capture: name})
		}
	}
	return nil
}

// CaptureNames returns the names this template captures, in pattern order.
func (t *Template) CaptureNames() []string {
	return t.captureNames
}

// String returns the original pattern text.
func (t *Template) String() string {
	return t.raw
}

// Match evaluates the template against input, returning named captures on
// success. Both ends are anchored; '**' absorbs the minimal middle span that
// lets the fixed prefix and suffix align.
func (t *Template) Match(input string) (map[string]string, bool) {
	body := input
	if t.kind == Path {
		body = strings.TrimPrefix(body, "/")
		var verb string
		if idx := lastVerbIndex(body); idx != -1 {
			verb = body[idx+1:]
			body = body[:idx]
		}
		if !t.verbMatches(verb) {
			return nil, false
		}
	}

	segs := strings.Split(body, t.kind.separator())
	if body == "" {
		segs = nil
	}

	parts := make(map[string][]string)

	if t.wildcardIdx == -1 {
		if len(segs) != len(t.elems) {
			return nil, false
		}
		for i, e := range t.elems {
			if !t.elemMatches(e, segs[i], parts) {
				return nil, false
			}
		}
		return t.finish(parts)
	}

	pre := t.elems[:t.wildcardIdx]
	post := t.elems[t.wildcardIdx+1:]
	if len(segs) < len(pre)+len(post) {
		return nil, false
	}
	for i, e := range pre {
		if !t.elemMatches(e, segs[i], parts) {
			return nil, false
		}
	}
	tail := segs[len(segs)-len(post):]
	for i, e := range post {
		if !t.elemMatches(e, tail[i], parts) {
			return nil, false
		}
	}
	if wc := t.elems[t.wildcardIdx]; wc.capture != "" {
		middle := segs[len(pre) : len(segs)-len(post)]
		if t.wildcardIdx == 0 {
			// Leading '**': the absorbed span precedes the suffix parts.
			parts[wc.capture] = append(append([]string{}, middle...), parts[wc.capture]...)
		} else {
			parts[wc.capture] = append(parts[wc.capture], middle...)
		}
	}
	return t.finish(parts)
}

// lastVerbIndex returns the index of a ':' verb separator within the final
// path segment of body, or -1.
func lastVerbIndex(body string) int {
	for i := len(body) - 1; i >= 0; i-- {
		switch body[i] {
		case ':':
			return i
		case '/':
			return -1
		}
	}
	return -1
}

func (t *Template) verbMatches(verb string) bool {
	switch {
	case t.verb == nil:
		return verb == ""
	case *t.verb == "*":
		return true
	default:
		return verb == *t.verb
	}
}

func (t *Template) elemMatches(e element, seg string, parts map[string][]string) bool {
	switch e.kind {
	case elemLiteral:
		if t.kind == Host {
			if !strings.EqualFold(e.literal, seg) {
				return false
			}
		} else if e.literal != seg {
			return false
		}
	case elemStar:
		if seg == "" {
			return false
		}
	}
	if e.capture != "" {
		parts[e.capture] = append(parts[e.capture], seg)
	}
	return true
}

// finish joins capture parts and enforces that every declared capture
// consumed at least one segment.
func (t *Template) finish(parts map[string][]string) (map[string]string, bool) {
	captures := make(map[string]string, len(t.captureNames))
	for _, name := range t.captureNames {
		p := parts[name]
		if len(p) == 0 {
			return nil, false
		}
		captures[name] = strings.Join(p, t.kind.separator())
	}
	return captures, true
}
