package tts

// sentence terminators recognized when trimming, including the devanagari
// full stop.
var sentenceEnds = []rune{'.', '!', '?', '।'}

// Truncate shortens text to at most limit runes, preferring a sentence
// boundary past the midpoint, then a word boundary, then a hard cut. Trimmed
// prose gets a trailing ellipsis so it still reads as speech.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	window := runes[:limit]

	lastEnd, lastSpace := -1, -1
	for i, r := range window {
		if r == ' ' {
			lastSpace = i
		}
		for _, end := range sentenceEnds {
			if r == end {
				lastEnd = i
			}
		}
	}
	if lastEnd > limit/2 {
		return string(window[:lastEnd+1])
	}
	if lastSpace > limit/2 {
		return string(window[:lastSpace]) + "..."
	}
	return string(window) + "..."
}
