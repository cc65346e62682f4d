package xdispatch

import "strings"

// Topics are hierarchical keys of non-empty segments joined by Delimiter.
// Patterns use SegmentWildcard to match exactly one segment and TailWildcard,
// valid only as the final segment, to match zero or more remaining segments.
// Matching is case-sensitive and purely structural.
const (
	Delimiter       = "."
	SegmentWildcard = "*"
	TailWildcard    = "#"
)

func splitTopic(s string) []string { return strings.Split(s, Delimiter) }

// ValidateTopic rejects empty topics, empty segments and wildcard characters.
func ValidateTopic(topic string) error {
	if topic == "" {
		return &ValidationError{Value: topic, Reason: "topic must not be empty"}
	}
	for _, seg := range splitTopic(topic) {
		switch {
		case seg == "":
			return &ValidationError{Value: topic, Reason: "topic contains an empty segment"}
		case strings.Contains(seg, SegmentWildcard) || strings.Contains(seg, TailWildcard):
			return &ValidationError{Value: topic, Reason: "topic must not contain wildcards"}
		}
	}
	return nil
}

// ValidatePattern rejects empty patterns, empty segments, a non-final
// TailWildcard and wildcards glued to other characters within a segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return &ValidationError{Value: pattern, Reason: "pattern must not be empty"}
	}
	segs := splitTopic(pattern)
	for i, seg := range segs {
		switch {
		case seg == "":
			return &ValidationError{Value: pattern, Reason: "pattern contains an empty segment"}
		case seg == TailWildcard:
			if i != len(segs)-1 {
				return &ValidationError{Value: pattern, Reason: "# is only valid as the final segment"}
			}
		case strings.Contains(seg, TailWildcard):
			return &ValidationError{Value: pattern, Reason: "# must be a whole segment"}
		case seg != SegmentWildcard && strings.Contains(seg, SegmentWildcard):
			return &ValidationError{Value: pattern, Reason: "* must be a whole segment"}
		}
	}
	return nil
}

// MatchTopic reports whether topic matches pattern. Both inputs are assumed
// valid; invalid inputs simply fail to match. Deterministic and
// side-effect-free, it runs on every publish for every candidate.
func MatchTopic(pattern, topic string) bool {
	return matchSegments(splitTopic(pattern), splitTopic(topic))
}

func matchSegments(pat, top []string) bool {
	for i, seg := range pat {
		if seg == TailWildcard {
			// Trailing # matches the rest, including nothing.
			return i == len(pat)-1
		}
		if i >= len(top) {
			return false
		}
		if seg != SegmentWildcard && seg != top[i] {
			return false
		}
	}
	return len(pat) == len(top)
}

// staticPrefix returns the leading non-wildcard segment of a pattern, or ""
// when the pattern starts with a wildcard. The registry buckets
// subscriptions by it so a publish does not scan unrelated patterns.
func staticPrefix(pattern string) string {
	seg, _, _ := strings.Cut(pattern, Delimiter)
	if seg == SegmentWildcard || seg == TailWildcard {
		return ""
	}
	return seg
}
