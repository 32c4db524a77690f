package vocab

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// ImportVTT harvests speaker names from a WebVTT transcript (as exported by
// Teams, Zoom or Meet) and adds them to s as [KindPerson] terms. It returns
// the number of names that were not already known.
//
// Speakers are recognised in two forms: voice spans (<v Priya Raman>text)
// and a "Name: text" prefix on the first line of a cue payload.
func ImportVTT(ctx context.Context, s *Store, r io.Reader) (int, error) {
	names, err := ParseVTTSpeakers(r)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	terms := make([]Term, len(names))
	for i, n := range names {
		terms[i] = Term{Text: n, Kind: KindPerson, Note: "meeting participant"}
	}
	return s.Add(terms...), nil
}

// ParseVTTSpeakers returns the distinct speaker names of a WebVTT document in
// order of first appearance.
func ParseVTTSpeakers(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var (
		names     []string
		seen      = make(map[string]struct{})
		lineNo    int
		inCue     bool
		firstLine bool
		inNote    bool
	)
	add := func(name string) {
		name = strings.Join(strings.Fields(name), " ")
		if !plausibleName(name) {
			return
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		lineNo++
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
			if !strings.HasPrefix(line, "WEBVTT") {
				return nil, fmt.Errorf("vocab: vtt: missing WEBVTT header")
			}
			continue
		}

		switch {
		case line == "":
			inCue, inNote = false, false
			continue
		case inNote:
			continue
		case !inCue && (strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION")):
			inNote = true
			continue
		case strings.Contains(line, "-->"):
			inCue, firstLine = true, true
			continue
		case !inCue:
			// Cue identifier line.
			continue
		}

		for _, v := range voiceSpans(line) {
			add(v)
		}
		if firstLine && !strings.HasPrefix(line, "<v") {
			if name, _, ok := strings.Cut(line, ":"); ok {
				add(name)
			}
		}
		firstLine = false
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocab: vtt: read: %w", err)
	}
	return names, nil
}

// voiceSpans extracts the annotation of every <v ...> tag in line. Classes
// (<v.loud Name>) are dropped.
func voiceSpans(line string) []string {
	var out []string
	for {
		i := strings.Index(line, "<v")
		if i < 0 {
			return out
		}
		rest := line[i+2:]
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return out
		}
		tag := rest[:end]
		line = rest[end+1:]
		if strings.HasPrefix(tag, ".") {
			_, tag, _ = strings.Cut(tag, " ")
		} else if !strings.HasPrefix(tag, " ") {
			continue
		}
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
}

// plausibleName rejects prefixes that are clearly not speaker names:
// timestamps, URLs and long phrases.
func plausibleName(s string) bool {
	if s == "" || len(s) > 60 || len(strings.Fields(s)) > 4 {
		return false
	}
	if strings.Contains(s, "//") {
		return false
	}
	r := []rune(s)
	return unicode.IsLetter(r[0])
}
