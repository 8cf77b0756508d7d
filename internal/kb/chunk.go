package kb

import (
	"strings"
	"unicode/utf8"
)

const defaultChunkSize = 1200

// splitIntoChunks splits text on paragraph boundaries into chunks of at most size runes. Paragraphs longer than size
// are split on word boundaries, and words longer than size (long URLs, encoded blobs) are cut every size runes
func splitIntoChunks(text string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}

	var chunks []string
	var current strings.Builder
	emit := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	add := func(piece, sep string) {
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+len(sep)+utf8.RuneCountInString(piece) > size {
			emit()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(piece)
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= size {
			add(para, "\n\n")
			continue
		}
		emit()
		for _, word := range strings.Fields(para) {
			for _, piece := range splitRunes(word, size) {
				add(piece, " ")
			}
		}
		emit()
	}
	emit()

	return chunks
}

// splitRunes cuts s into pieces of at most n runes
func splitRunes(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var pieces []string
	runes := []rune(s)
	for len(runes) > n {
		pieces = append(pieces, string(runes[:n]))
		runes = runes[n:]
	}
	return append(pieces, string(runes))
}
