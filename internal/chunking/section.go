package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSection labels chunks with no recognisable heading.
const DefaultSection = "General Policy"

// sectionPatterns are tried in order; the first capture group of the first
// match becomes the section label.
var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:^|\n)(SECTION \d+[:\s-]+.*?)(?:\n|$)`),
	regexp.MustCompile(`(?i)(?:^|\n)(Chapter \d+[:\s-]+.*?)(?:\n|$)`),
	regexp.MustCompile(`(?i)(?:^|\n)(Article \d+[:\s-]+.*?)(?:\n|$)`),
	headingLine(`(?:Expense|Travel|Meal|Accommodation|Transportation|Reimbursement)\s+Policy`),
	headingLine(`(?:Category\s+)?Limits?`),
	headingLine(`Approval\s+(?:Matrix|Process|Rules?)`),
	headingLine(`General\s+(?:Guidelines?|Rules?|Provisions?)`),
}

// headingLine matches name only when it is the whole line, so a sentence
// that mentions "limit" or "travel policy" is not taken for a heading.
func headingLine(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|\n)[ \t]*(` + name + `)[ \t]*(?:\r?\n|$)`)
}

// DetectSection returns the heading label for a chunk of policy text.
func DetectSection(text string) string {
	for _, re := range sectionPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if label := strings.TrimSpace(m[1]); label != "" {
				return label
			}
		}
	}

	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if n := utf8.RuneCountInString(first); n > 5 && n < 100 {
		return first
	}
	return DefaultSection
}
