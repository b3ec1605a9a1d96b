// Package transcript turns engine segments into readable lines and persists them.
package transcript

import (
	"regexp"
	"strings"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

var (
	punctuationOnly = regexp.MustCompile(`^[.,!?;:()]+$`)
	sentenceBreak   = regexp.MustCompile(`[.!?]`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// Format assembles segments into a single line.
//
// Contraction fragments ("'m", "'s") attach to the previous word, "[ in audible ]" style
// noise tags collapse into "[inaudible]", and punctuation attaches without a leading
// space. Segments are never reordered; only empty ones are skipped.
func Format(segments []types.TranscriptSegment) string {
	var b strings.Builder

	for i := 0; i < len(segments); i++ {
		current := strings.TrimSpace(segments[i].Text)
		if current == "" {
			continue
		}

		if strings.HasPrefix(current, "'") {
			trimTrailingSpace(&b)
			b.WriteString(current)
			continue
		}

		if current == "[" {
			if b.Len() > 0 && !endsWithSpace(&b) {
				b.WriteByte(' ')
			}
			tag := "["
			closed := false
			for i+1 < len(segments) {
				i++
				inner := strings.TrimSpace(segments[i].Text)
				if inner == "" {
					continue
				}
				tag += whitespace.ReplaceAllString(inner, "")
				if strings.Contains(inner, "]") {
					closed = true
					break
				}
			}
			if !closed {
				tag += "]"
			}
			b.WriteString(tag)
			continue
		}

		if punctuationOnly.MatchString(current) {
			trimTrailingSpace(&b)
			b.WriteString(current)
			if sentenceBreak.MatchString(current) || current == "," {
				b.WriteByte(' ')
			}
			continue
		}

		if b.Len() > 0 && !endsWithSpace(&b) {
			b.WriteByte(' ')
		}
		b.WriteString(current)
	}

	return b.String()
}

func endsWithSpace(b *strings.Builder) bool {
	s := b.String()
	return len(s) > 0 && s[len(s)-1] == ' '
}

func trimTrailingSpace(b *strings.Builder) {
	if !endsWithSpace(b) {
		return
	}
	s := b.String()
	b.Reset()
	b.WriteString(s[:len(s)-1])
}
