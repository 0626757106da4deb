package ingestion

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// bullet is the list marker PDF extraction leaves behind.
const bullet = '•'

// Clean normalises extracted page text before splitting.
//
// Chinese pages: a newline is removed when the runes on both sides are
// non-CJK (rejoining hard-wrapped latin words and numbers), then bullets
// and spaces are deleted.
//
// Other pages: bullets are dropped, runs of horizontal whitespace collapse
// to one space and runs of blank lines collapse to one blank line.
//
// Invalid UTF-8 is dropped in both modes.
func Clean(text string) string {
	text = strings.ToValidUTF8(text, "")
	if isChinese(text) {
		return cleanCJK(text)
	}
	return cleanLatin(text)
}

func isChinese(text string) bool {
	info := whatlanggo.Detect(text)
	return info.Lang == whatlanggo.Cmn || info.Script == unicode.Han
}

func isCJK(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}

// cleanCJK scans left to right for non-CJK, newline, non-CJK triples. A
// matched triple is consumed whole and loses every newline in it, so the
// closing rune of one match cannot open the next: "a\nb\nc" becomes "ab\nc".
func cleanCJK(text string) string {
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	emit := func(r rune, dropNewline bool) {
		switch {
		case r == bullet, r == ' ':
		case r == '\n' && dropNewline:
		default:
			b.WriteRune(r)
		}
	}
	for i := 0; i < len(runes); {
		if i+2 < len(runes) && runes[i+1] == '\n' && !isCJK(runes[i]) && !isCJK(runes[i+2]) {
			emit(runes[i], true)
			emit(runes[i+2], true)
			i += 3
			continue
		}
		emit(runes[i], false)
		i++
	}
	return b.String()
}

func cleanLatin(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(strings.ReplaceAll(line, string(bullet), " ")), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
