package routing

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
)

// InvalidKindError names one rejected configuration token.
type InvalidKindError struct {
	Token  string
	Reason string
}

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("routing: %s: %q", e.Reason, e.Token)
}

func knownKinds(format canonical.Format) map[string]string {
	out := make(map[string]string)
	for _, tag := range canonical.KindTags(format) {
		out[NormalizeKind(tag)] = tag
	}
	return out
}

// ParseKindList parses "trade,bookChange,..." into canonical kind tags of
// format. Every invalid token is reported in one aggregate error.
func ParseKindList(s string, format canonical.Format) ([]string, error) {
	known := knownKinds(format)
	var (
		out  []string
		errs error
		seen = map[string]bool{}
	)
	for _, tok := range splitList(s) {
		tag, ok := known[NormalizeKind(tok)]
		if !ok {
			errs = multierr.Append(errs, &InvalidKindError{Token: tok, Reason: "unknown " + format.String() + " kind"})
			continue
		}
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

// ParseDestinationOverrides parses "kind:destination,..." pairs. Keys of the
// result are canonical kind tags of format.
func ParseDestinationOverrides(s string, format canonical.Format) (map[string]string, error) {
	known := knownKinds(format)
	out := make(map[string]string)
	var errs error
	for _, tok := range splitList(s) {
		kind, dest, ok := strings.Cut(tok, ":")
		kind, dest = strings.TrimSpace(kind), strings.TrimSpace(dest)
		switch {
		case !ok:
			errs = multierr.Append(errs, &InvalidKindError{Token: tok, Reason: "expected kind:destination"})
			continue
		case dest == "":
			errs = multierr.Append(errs, &InvalidKindError{Token: tok, Reason: "empty destination"})
			continue
		}
		tag, isKnown := known[NormalizeKind(kind)]
		if !isKnown {
			errs = multierr.Append(errs, &InvalidKindError{Token: kind, Reason: "unknown " + format.String() + " kind"})
			continue
		}
		if prev, dup := out[tag]; dup && prev != dest {
			errs = multierr.Append(errs, &InvalidKindError{Token: tok, Reason: "conflicting destination for " + tag})
			continue
		}
		out[tag] = dest
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
