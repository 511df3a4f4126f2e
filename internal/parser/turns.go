package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// turnMarker matches a line that opens a conversation turn:
// "User:", "**Assistant:**", "**Human**:", "## System".
var turnMarker = regexp.MustCompile(`(?im)^[ \t]*(?:\**(?:user|assistant|system|human|ai|tool)\**[ \t]*:|#{1,6}[ \t]+(?:user|assistant|system|human|ai|tool)[ \t]*:?[ \t]*$)`)

// IsTurnStructured reports whether text looks like a role-marked transcript.
func IsTurnStructured(text string) bool {
	return len(turnMarker.FindAllStringIndex(text, 2)) >= 2
}

// turnSpans cuts at the start of every turn marker line.
func turnSpans(s string) []span {
	var cuts []int
	for _, m := range turnMarker.FindAllStringIndex(s, -1) {
		cuts = append(cuts, m[0])
	}
	return spansFromCuts(len(s), cuts)
}

// Turn is one message in a transcript.
type Turn struct {
	Role string
	Text string
}

// FormatTranscript renders turns with the markers the chunker recognises.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**%s:** %s", roleLabel(t.Role), strings.TrimSpace(t.Text))
	}
	return b.String()
}

func roleLabel(role string) string {
	switch strings.ToLower(role) {
	case "user", "human":
		return "User"
	case "assistant", "ai":
		return "Assistant"
	case "system":
		return "System"
	case "tool":
		return "Tool"
	default:
		if role == "" {
			return "User"
		}
		return strings.ToUpper(role[:1]) + role[1:]
	}
}
