package pubsub

import "strings"

// MatchTopic reports whether a `.`-separated topic matches a wildcard
// pattern. A pattern segment `*` matches exactly one topic segment; `**`
// matches the remainder of the topic unconditionally; any other segment
// must equal the corresponding topic segment. The match succeeds only if
// both sequences are fully consumed, or a `**` is hit.
//
//	MatchTopic("orders.created", "orders.*")     == true
//	MatchTopic("orders.created.eu", "orders.*")  == false
//	MatchTopic("orders.created.eu", "orders.**") == true
//	MatchTopic(anything, "*")                    == true
func MatchTopic(topic, pattern string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}
	topicSegs := strings.Split(topic, ".")
	patternSegs := strings.Split(pattern, ".")

	for i, p := range patternSegs {
		if p == "**" {
			return true
		}
		if i >= len(topicSegs) {
			return false
		}
		if p != "*" && p != topicSegs[i] {
			return false
		}
	}
	return len(topicSegs) == len(patternSegs)
}
