// Package transcript normalizes engine output into the shape every provider shares.
package transcript

import (
	"regexp"
	"strings"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
)

var (
	reControlToken   = regexp.MustCompile(`<\|[^|>]*\|>`)
	reTimestampToken = regexp.MustCompile(`\[_[A-Z]+_?\d*\]`)
	reBracketNote    = regexp.MustCompile(`\[\s*[A-Za-z][A-Za-z _'-]*\s*\]`)
	reParenNote      = regexp.MustCompile(`\(\s*([A-Za-z][A-Za-z ,'-]*?)\s*\)`)
	reStarNote       = regexp.MustCompile(`\*\s*[A-Za-z][A-Za-z ]*\s*\*`)
	reWhitespace     = regexp.MustCompile(`\s+`)
)

// nonSpeechWords mark a parenthetical as a sound annotation rather than spoken words.
var nonSpeechWords = map[string]struct{}{
	"applause": {}, "background": {}, "beep": {}, "beeping": {}, "bell": {}, "breathing": {},
	"chatter": {}, "chirping": {}, "clapping": {}, "cough": {}, "coughs": {}, "coughing": {},
	"crowd": {}, "inaudible": {}, "indistinct": {}, "laugh": {}, "laughs": {}, "laughing": {},
	"laughter": {}, "music": {}, "noise": {}, "pause": {}, "ringing": {}, "sigh": {},
	"sighs": {}, "silence": {}, "sniffs": {}, "static": {}, "typing": {}, "unintelligible": {},
}

const maxAnnotationWords = 4

func isNonSpeech(inner string) bool {
	words := strings.FieldsFunc(strings.ToLower(inner), func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(words) == 0 || len(words) > maxAnnotationWords {
		return false
	}
	for _, word := range words {
		if _, ok := nonSpeechWords[word]; ok {
			return true
		}
	}
	return false
}

func stripParenNotes(text string) string {
	return reParenNote.ReplaceAllStringFunc(text, func(match string) string {
		if isNonSpeech(reParenNote.FindStringSubmatch(match)[1]) {
			return " "
		}
		return match
	})
}

// Clean strips inference control tokens and non-speech annotations.
// With preserveTimestamps only surrounding whitespace is trimmed.
func Clean(text string, preserveTimestamps bool) string {
	if preserveTimestamps {
		return strings.TrimSpace(text)
	}

	text = reControlToken.ReplaceAllString(text, " ")
	text = reTimestampToken.ReplaceAllString(text, " ")
	text = reBracketNote.ReplaceAllString(text, " ")
	text = stripParenNotes(text)
	text = reStarNote.ReplaceAllString(text, " ")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Finalize cleans a raw engine result: segment text is cleaned, empty segments
// dropped, segments sorted and made non-overlapping, and a whole-duration
// segment is synthesized when the engine returned none.
func Finalize(result model.Result, settings model.Settings) model.Result {
	out := result.Clone()

	segments := make([]model.Segment, 0, len(out.Segments))
	for _, seg := range out.Segments {
		seg.Text = Clean(seg.Text, settings.PreserveTimestamps)
		if seg.Text == "" {
			continue
		}
		segments = append(segments, seg)
	}
	model.SortSegments(segments)
	for i := range segments {
		if segments[i].Start < 0 {
			segments[i].Start = 0
		}
		if i > 0 && segments[i].Start < segments[i-1].End {
			segments[i].Start = segments[i-1].End
		}
		if segments[i].End < segments[i].Start {
			segments[i].End = segments[i].Start
		}
	}

	text := Clean(out.Text, settings.PreserveTimestamps)
	if text == "" && len(segments) > 0 {
		parts := make([]string, 0, len(segments))
		for _, seg := range segments {
			parts = append(parts, seg.Text)
		}
		text = strings.Join(parts, " ")
	}

	duration := out.Duration
	if duration <= 0 {
		duration = settings.DurationEstimate
	}
	if n := len(segments); n > 0 && segments[n-1].End > duration {
		duration = segments[n-1].End
	}

	if len(segments) == 0 && text != "" {
		segments = []model.Segment{{Start: 0, End: duration, Text: text}}
	}

	out.Text = text
	out.Segments = segments
	out.Duration = duration
	return out
}
