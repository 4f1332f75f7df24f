// Package segment parses a response's raw text into ordered (voice, text)
// runs and sanitizes each run for speech synthesis.
package segment

import (
	"regexp"
	"strings"
)

// Segment is one voice run of a response. Index is contiguous 0..N-1 and
// defines playback order. Audio stays nil until the render stage fills it.
type Segment struct {
	Index    int
	VoiceKey string
	Text     string
	Audio    []byte
}

var (
	markerRe = regexp.MustCompile(`(?i)\[speaker\s*:\s*([^\]]*)\]`)

	// Markdown links keep their label, the URL is dropped.
	mdLinkRe = regexp.MustCompile(`\[([^\]]*)\]\(\s*[a-zA-Z][a-zA-Z0-9+.\-]*://[^)\s]*\s*\)`)
	// Bare URLs are stripped entirely. Closing brackets are excluded so the
	// artifact removal below can clean up what surrounds the URL.
	bareURLRe = regexp.MustCompile(`(?i)\b(?:[a-z][a-z0-9+.\-]*://|www\.)[^\s)\]}]*`)
	// Bracket artifacts left empty after URL stripping.
	emptyBracketsRe = regexp.MustCompile(`\(\s*\)|\[\s*\]|\{\s*\}`)

	spacesRe     = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\s*\n\s*(\n\s*)*`)
)

// Split parses raw into ordered segments. Text before the first marker uses
// defaultVoice; each `[speaker: name]` marker switches the active voice until
// the next marker. A marker of "default" or "" reverts to defaultVoice.
// Adjacent same-voice runs are merged, runs are sanitized, and runs that
// sanitize to empty are dropped. The second return reports whether the text
// contained any explicit markers; callers use it to pick the auto-release
// policy for playback.
func Split(raw, defaultVoice string) ([]Segment, bool) {
	defaultKey := normalizeVoice(defaultVoice)

	matches := markerRe.FindAllStringSubmatchIndex(raw, -1)
	explicit := len(matches) > 0

	type run struct {
		voice string
		text  string
	}
	var runs []run

	appendRun := func(voice, text string) {
		if len(runs) > 0 && runs[len(runs)-1].voice == voice {
			// Merge adjacent same-voice runs so consecutive markers never
			// create a spurious empty boundary.
			runs[len(runs)-1].text += text
			return
		}
		runs = append(runs, run{voice: voice, text: text})
	}

	active := defaultKey
	pos := 0
	for _, m := range matches {
		appendRun(active, raw[pos:m[0]])
		name := normalizeVoice(raw[m[2]:m[3]])
		if name == "" || name == "default" {
			name = defaultKey
		}
		active = name
		pos = m[1]
	}
	appendRun(active, raw[pos:])

	segs := make([]Segment, 0, len(runs))
	for _, r := range runs {
		text := Sanitize(r.text)
		if text == "" {
			continue
		}
		segs = append(segs, Segment{Index: len(segs), VoiceKey: r.voice, Text: text})
	}
	return segs, explicit
}

// Sanitize prepares one text run for synthesis: markdown links collapse to
// their label, bare URLs disappear, leftover empty brackets are removed, and
// whitespace is normalized.
func Sanitize(text string) string {
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = bareURLRe.ReplaceAllString(text, "")
	text = emptyBracketsRe.ReplaceAllString(text, "")
	text = spacesRe.ReplaceAllString(text, " ")
	text = blankLinesRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// normalizeVoice lowercases and whitespace-normalizes a voice name so marker
// comparison is case-insensitive.
func normalizeVoice(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
