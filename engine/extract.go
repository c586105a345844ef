package engine

import (
	"regexp"
	"strings"
)

// Markers the reasoning backend is instructed to use. The voice marker
// carries the line meant to be spoken; the completed markers carry a
// short task summary that doubles as a fallback spoken line.
const (
	voiceMarker           = "VOICE_RESPONSE:"
	completedMarkerCustom = "🎯 COMPLETED:"
	completedMarker       = "COMPLETED:"
	callbackMarker        = "CALLBACK:"

	voiceMaxWords     = 60
	completedMaxWords = 50
	sentenceCeiling   = 200
	prefixLimit       = 220
)

var goodbyePhrases = []string{
	"goodbye",
	"bye",
	"bye bye",
	"see you",
	"talk to you later",
	"hang up",
	"that's all",
}

var goodbyeRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(goodbyePhrases))
	for _, p := range goodbyePhrases {
		res = append(res, regexp.MustCompile(`\b`+regexp.QuoteMeta(p)+`\b`))
	}
	return res
}()

var (
	emphasisRe  = regexp.MustCompile("[*_~`]+")
	bracketedRe = regexp.MustCompile(`\[[^\]]*\]`)
	spaceRe     = regexp.MustCompile(`\s+`)
	callbackRe  = regexp.MustCompile(`CALLBACK:\s*(\+?[\d(][\d\-\s().]*)`)
	wordRe      = regexp.MustCompile(`[a-zA-Z0-9']+`)
)

// IsGoodbye reports whether the transcript is a goodbye. Phrases match
// exactly or bounded by word breaks, never as raw substrings, so "maybe"
// and "goodbyette" do not end the call.
func IsGoodbye(transcript string) bool {
	t := strings.ToLower(strings.TrimSpace(transcript))
	t = strings.Trim(t, ".,!?")
	if t == "" {
		return false
	}
	for i, phrase := range goodbyePhrases {
		if t == phrase || goodbyeRes[i].MatchString(t) {
			return true
		}
	}
	return false
}

// ExtractSpeakable picks the line to speak from a raw backend reply.
// Priority: VOICE_RESPONSE marker, then the completed markers, then the
// first sentence, then a truncated prefix of the whole reply.
func ExtractSpeakable(raw string) string {
	if line, ok := markerLine(raw, voiceMarker, voiceMaxWords); ok {
		return line
	}
	if line, ok := markerLine(raw, completedMarkerCustom, completedMaxWords); ok {
		return line
	}
	if line, ok := markerLine(raw, completedMarker, 0); ok {
		return line
	}
	if s := firstSentence(raw); s != "" && len(s) <= sentenceCeiling {
		return cleanSpoken(s)
	}
	return truncate(cleanSpoken(raw), prefixLimit)
}

// FindCallback scans a raw reply for a callback destination number.
func FindCallback(raw string) (string, bool) {
	m := callbackRe.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	num := strings.TrimSpace(m[1])
	var b strings.Builder
	for i, r := range num {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "+" {
		return "", false
	}
	return out, true
}

// markerLine extracts the text after marker up to the next marker or line
// break, markup-stripped. Lines over maxWords are rejected so a rambling
// reply falls through to the next extraction tier; maxWords 0 disables
// the cap.
func markerLine(raw, marker string, maxWords int) (string, bool) {
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(marker):]

	if i := strings.IndexAny(rest, "\n\r"); i >= 0 {
		rest = rest[:i]
	}
	for _, stop := range []string{voiceMarker, completedMarkerCustom, completedMarker, callbackMarker, "🎯", "🗣️"} {
		if stop == marker {
			continue
		}
		if i := strings.Index(rest, stop); i >= 0 {
			rest = rest[:i]
		}
	}

	line := cleanSpoken(rest)
	if line == "" {
		return "", false
	}
	if maxWords > 0 && countWords(line) > maxWords {
		return "", false
	}
	return line, true
}

// cleanSpoken strips emphasis markup and bracketed annotations that read
// badly over text-to-speech.
func cleanSpoken(s string) string {
	s = bracketedRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func firstSentence(raw string) string {
	s := strings.TrimSpace(raw)
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(s[:i+1])
		}
		if r == '\n' {
			return strings.TrimSpace(s[:i])
		}
	}
	return s
}

func countWords(s string) int {
	return len(wordRe.FindAllString(s, -1))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
