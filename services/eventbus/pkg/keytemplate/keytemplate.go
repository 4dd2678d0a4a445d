// Package keytemplate compiles record key templates such as
// "{{exchange}}.{{payloadCase}}.{{symbol}}" into canonical.KeyFunc values.
package keytemplate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"

	metaPrefix = "meta."
)

var metaKeyRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Error is returned by Compile.
type Error struct {
	Template string
	Token    string
	Reason   string
}

func (e *Error) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("keytemplate: %s (template %q)", e.Reason, e.Template)
	}
	return fmt.Sprintf("keytemplate: %s %q (template %q)", e.Reason, e.Token, e.Template)
}

type resolver func(f *canonical.KeyFields) string

var placeholders = map[string]resolver{
	"exchange":    func(f *canonical.KeyFields) string { return f.Exchange },
	"symbol":      func(f *canonical.KeyFields) string { return f.Symbol },
	"payloadCase": func(f *canonical.KeyFields) string { return f.Kind },
	"recordType":  func(f *canonical.KeyFields) string { return f.Kind },
	"dataType":    func(f *canonical.KeyFields) string { return f.DataType },
	"source":      func(f *canonical.KeyFields) string { return f.Source },
	"origin":      func(f *canonical.KeyFields) string { return f.Origin },
}

// segment is either literal text or a resolver.
type segment struct {
	lit     string
	resolve resolver
}

// Compile parses template once. The returned function costs one pass over
// the segments per call; unknown values render as "".
func Compile(template string, format canonical.Format) (canonical.KeyFunc, error) {
	if strings.TrimSpace(template) == "" {
		return nil, &Error{Template: template, Reason: "template is blank"}
	}

	var segs []segment
	rest := template
	for len(rest) > 0 {
		i := strings.Index(rest, openDelim)
		if i < 0 {
			segs = append(segs, segment{lit: rest})
			break
		}
		if i > 0 {
			segs = append(segs, segment{lit: rest[:i]})
		}
		rest = rest[i+len(openDelim):]
		j := strings.Index(rest, closeDelim)
		if j < 0 {
			return nil, &Error{Template: template, Token: openDelim + rest, Reason: "unterminated placeholder"}
		}
		name := strings.TrimSpace(rest[:j])
		rest = rest[j+len(closeDelim):]

		r, err := lookup(template, name, format)
		if err != nil {
			return nil, err
		}
		segs = append(segs, segment{resolve: r})
	}

	if len(segs) == 1 && segs[0].resolve == nil {
		lit := segs[0].lit
		return func(*canonical.KeyFields) string { return lit }, nil
	}

	return func(f *canonical.KeyFields) string {
		var b strings.Builder
		for _, s := range segs {
			if s.resolve != nil {
				b.WriteString(s.resolve(f))
			} else {
				b.WriteString(s.lit)
			}
		}
		return b.String()
	}, nil
}

// MustCompile is Compile that panics; for tests and static templates.
func MustCompile(template string, format canonical.Format) canonical.KeyFunc {
	fn, err := Compile(template, format)
	if err != nil {
		panic(err)
	}
	return fn
}

func lookup(template, name string, format canonical.Format) (resolver, error) {
	if r, ok := placeholders[name]; ok {
		return r, nil
	}
	if !strings.HasPrefix(name, metaPrefix) {
		return nil, &Error{Template: template, Token: name, Reason: "unknown placeholder"}
	}
	if format != canonical.FormatBronze {
		return nil, &Error{Template: template, Token: name, Reason: "meta placeholders require bronze format"}
	}
	key := strings.TrimPrefix(name, metaPrefix)
	if !metaKeyRe.MatchString(key) {
		return nil, &Error{Template: template, Token: name, Reason: "malformed meta key"}
	}
	return func(f *canonical.KeyFields) string { return f.Meta[key] }, nil
}
