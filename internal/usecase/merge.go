package usecase

import "strings"

const (
	correctionMinPrefix    = 3
	correctionStrongPrefix = 8
)

// mergeLiveTranscript folds the newest transcription window into the text
// shown so far. Consecutive windows overlap because the audio window slides.
func mergeLiveTranscript(accumulated string, prevWindow string, nextWindow string) string {
	if accumulated == "" || prevWindow == "" {
		return nextWindow
	}
	if nextWindow == "" || nextWindow == prevWindow {
		return accumulated
	}

	if base, ok := strings.CutSuffix(accumulated, prevWindow); ok {
		if strings.HasPrefix(nextWindow, prevWindow) {
			return base + nextWindow
		}

		prev := []rune(prevWindow)
		next := []rune(nextWindow)
		lcp := commonPrefixRunes(prev, next)
		if lcp >= correctionStrongPrefix || (lcp >= correctionMinPrefix && 2*lcp >= min(len(prev), len(next))) {
			return base + nextWindow
		}

		if overlap := suffixPrefixOverlap(prev, next); overlap > 0 {
			return accumulated + string(next[overlap:])
		}
	}

	if strings.HasSuffix(accumulated, nextWindow) {
		return accumulated
	}
	return accumulated + nextWindow
}

func commonPrefixRunes(left []rune, right []rune) int {
	n := 0
	for n < len(left) && n < len(right) && left[n] == right[n] {
		n++
	}
	return n
}

// suffixPrefixOverlap returns the longest k such that the last k runes of
// left equal the first k runes of right.
func suffixPrefixOverlap(left []rune, right []rune) int {
	for k := min(len(left), len(right)); k > 0; k-- {
		if string(left[len(left)-k:]) == string(right[:k]) {
			return k
		}
	}
	return 0
}
