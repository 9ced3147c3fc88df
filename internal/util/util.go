// internal/util/util.go
package util

import (
	"strings"
	"unicode/utf8"
)

// TruncateRunes truncates a string to a maximum number of runes,
// appending an ellipsis if truncated.
func TruncateRunes(text string, maxRunes int) string {
	if maxRunes < 0 {
		maxRunes = 0
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes]) + "…"
}

// SingleLine collapses every run of whitespace, newlines included, into one space.
func SingleLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Indent prefixes every line of text with prefix.
func Indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// WrapToWidth wraps the given text to a specified width, breaking long words.
func WrapToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			out = append(out, "")
			continue
		}
		var cur strings.Builder
		runeCount := 0
		words := strings.Fields(line)
		for wi, w := range words {
			space := 0
			if wi > 0 {
				space = 1
			}
			wLen := utf8.RuneCountInString(w)
			if runeCount+space+wLen <= width {
				if runeCount > 0 {
					cur.WriteByte(' ')
					runeCount++
				}
				cur.WriteString(w)
				runeCount += wLen
				continue
			}
			if runeCount > 0 {
				out = append(out, cur.String())
				cur.Reset()
				runeCount = 0
			}
			if wLen <= width {
				cur.WriteString(w)
				runeCount = wLen
				continue
			}
			r := []rune(w)
			for start := 0; start < len(r); start += width {
				end := min(start+width, len(r))
				if end-start == width || end < len(r) {
					out = append(out, string(r[start:end]))
					continue
				}
				cur.WriteString(string(r[start:end]))
				runeCount = end - start
			}
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
		} else if len(words) == 0 {
			out = append(out, "")
		}
	}
	return strings.Join(out, "\n")
}
