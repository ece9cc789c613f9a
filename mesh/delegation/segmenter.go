package delegation

import (
	"regexp"
	"strings"

	"github.com/BaSui01/agentmesh/llm/router"
)

// numberedItem matches one item of a numbered list ("1. do X" or "2) do Y").
var numberedItem = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)

// Connector phrases that separate independent requests inside one message.
// Matched case-insensitively.
var connectors = []string{
	"and also",
	"additionally",
	"after that",
	"as well as",
	". then",
	"; then",
	", then",
}

// SegmentOptions tune the heuristics. Zero values disable the corresponding
// guard, so callers normally pass the configured delegation limits.
type SegmentOptions struct {
	MinMessageLength int // connector splitting applies only above this
	MinSegmentLength int // connector parts below this are rejected
}

// Segment splits a message into candidate sub-requests. A pure function over
// text: heuristics apply in priority order and the first that produces a
// usable split wins. A single homogeneous request yields nil.
func Segment(message string, opts SegmentOptions) []string {
	if items := splitNumberedList(message); len(items) >= 2 {
		return items
	}
	if parts := splitConnectors(message, opts); len(parts) >= 2 {
		return parts
	}
	// Last resort: the whole message counts as one candidate only when it
	// visibly mixes at least two kinds of work.
	if len(router.DetectCategories(message)) >= 2 {
		return []string{strings.TrimSpace(message)}
	}
	return nil
}

func splitNumberedList(message string) []string {
	matches := numberedItem.FindAllStringSubmatch(message, -1)
	if len(matches) < 2 {
		return nil
	}
	items := make([]string, 0, len(matches))
	for _, m := range matches {
		if item := strings.TrimSpace(m[1]); item != "" {
			items = append(items, item)
		}
	}
	if len(items) < 2 {
		return nil
	}
	return items
}

func splitConnectors(message string, opts SegmentOptions) []string {
	if opts.MinMessageLength > 0 && len(message) < opts.MinMessageLength {
		return nil
	}

	parts := []string{message}
	for _, conn := range connectors {
		var next []string
		for _, part := range parts {
			next = append(next, splitInsensitive(part, conn)...)
		}
		parts = next
	}

	var out []string
	for _, part := range parts {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), ".,;"))
		if len(part) >= opts.MinSegmentLength && part != "" {
			out = append(out, part)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// splitInsensitive splits s on every case-insensitive occurrence of sep.
func splitInsensitive(s, sep string) []string {
	lower := strings.ToLower(s)
	sep = strings.ToLower(sep)
	var parts []string
	for {
		i := strings.Index(lower, sep)
		if i < 0 {
			parts = append(parts, s)
			return parts
		}
		parts = append(parts, s[:i])
		s = s[i+len(sep):]
		lower = lower[i+len(sep):]
	}
}
