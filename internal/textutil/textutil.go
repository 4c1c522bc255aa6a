// Package textutil holds the deterministic text heuristics shared by the writing
// enrichment pipeline: sanitisation, word/line counting, year-level inference and
// the fixed per-year word count bands.
package textutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	nonASCIIRe   = regexp.MustCompile(`[^\x00-\x7F]+`)
	multiDotRe   = regexp.MustCompile(`\.{3,}`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	weirdPunctRe = regexp.MustCompile(`[•●▪◆◇■□▶►➤➔→]+`)

	yearRe      = regexp.MustCompile(`(?i)\b(?:year|yr|grade)\s*([3579])\b`)
	yearDigitRe = regexp.MustCompile(`(?i)\b([3579])\s*(?:year|yr|grade)\b`)

	markupPolicy = bluemonday.StrictPolicy()

	curlyReplacer = strings.NewReplacer(
		"’", "'", "‘", "'",
		"“", `"`, "”", `"`,
		"–", "-", "—", "-",
		"…", "...",
	)
)

// StripMarkup removes any HTML markup from answer text fetched from the quiz API.
func StripMarkup(s string) string {
	return strings.TrimSpace(markupPolicy.Sanitize(s))
}

// Sanitize normalises curly quotes and dashes, strips non-ASCII runs and stray
// bullet punctuation, and collapses whitespace. A maxLen of 0 means no truncation;
// truncation cuts at a word boundary and appends an ellipsis.
func Sanitize(s string, maxLen int) string {
	t := strings.TrimSpace(s)
	t = curlyReplacer.Replace(t)
	t = weirdPunctRe.ReplaceAllString(t, "")
	t = nonASCIIRe.ReplaceAllString(t, "")
	t = multiDotRe.ReplaceAllString(t, "...")
	t = strings.TrimSpace(multiSpaceRe.ReplaceAllString(t, " "))

	if maxLen > 0 && len(t) > maxLen {
		cut := t[:maxLen]
		if idx := strings.LastIndex(cut, " "); idx > 0 {
			cut = cut[:idx]
		}
		t = strings.TrimSpace(cut) + "..."
	}

	return t
}

// IsBlank reports whether the text contains nothing but whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// CountWords counts whitespace-separated tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// CountNonEmptyLines counts lines that contain at least one non-space character.
func CountNonEmptyLines(s string) int {
	count := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// InferYearLevel extracts a NAPLAN year level (3, 5, 7 or 9) from free text such
// as a quiz name or writing prompt. It falls back to the provided default when no
// year marker is found.
func InferYearLevel(text string, fallback int) int {
	if m := yearRe.FindStringSubmatch(text); m != nil {
		return int(m[1][0] - '0')
	}
	if m := yearDigitRe.FindStringSubmatch(text); m != nil {
		return int(m[1][0] - '0')
	}

	compact := strings.ReplaceAll(strings.ToLower(text), " ", "")
	for _, yr := range []int{3, 5, 7, 9} {
		if strings.Contains(compact, fmt.Sprintf("year%d", yr)) ||
			strings.Contains(compact, fmt.Sprintf("yr%d", yr)) ||
			strings.Contains(compact, fmt.Sprintf("grade%d", yr)) {
			return yr
		}
	}

	return fallback
}

// InferSubject maps a quiz name onto a NAPLAN subject label.
func InferSubject(quizName string) string {
	q := strings.ToLower(quizName)
	switch {
	case strings.Contains(q, "numeracy"), strings.Contains(q, "mathematics"), strings.Contains(q, "math"):
		return "Numeracy (Mathematics)"
	case strings.Contains(q, "convention"):
		return "Language Conventions"
	case strings.Contains(q, "reading"):
		return "Reading"
	case strings.Contains(q, "writing"):
		return "Writing"
	default:
		return "NAPLAN Assessment"
	}
}

// WordRange is the expected word count band for a year level.
type WordRange struct {
	Min       int
	Max       int
	StrongMax int
}

var wordRanges = map[int]WordRange{
	3: {Min: 80, Max: 150, StrongMax: 200},
	5: {Min: 180, Max: 300, StrongMax: 350},
	7: {Min: 300, Max: 500, StrongMax: 600},
	9: {Min: 450, Max: 700, StrongMax: 700},
}

// WordRangeFor returns the expected band for the year level, defaulting to the
// Year 3 band for unknown years.
func WordRangeFor(year int) WordRange {
	if r, ok := wordRanges[year]; ok {
		return r
	}
	return wordRanges[3]
}

// WordCountFeedback builds the advisory note comparing an answer's word count
// against the expected band for the year level.
func WordCountFeedback(year, wordCount int) map[string]interface{} {
	r := WordRangeFor(year)

	feedback := map[string]interface{}{
		"word_count": wordCount,
		"year_level": year,
		"status":     "within_range",
		"message":    fmt.Sprintf("Word count (%d) is within the expected range for Year %d.", wordCount, year),
		"suggestion": "Good length for this year level.",
	}

	switch {
	case wordCount < r.Min:
		feedback["status"] = "below_minimum"
		feedback["message"] = fmt.Sprintf("Word count (%d) is below the expected minimum for Year %d.", wordCount, year)
		feedback["suggestion"] = fmt.Sprintf("Aim for %d-%d words. Add more detail and examples to reach the target.", r.Min, r.Max)
	case wordCount > r.StrongMax:
		feedback["status"] = "above_maximum"
		feedback["message"] = fmt.Sprintf("Word count (%d) exceeds the recommended maximum for Year %d.", wordCount, year)
		feedback["suggestion"] = fmt.Sprintf("Try to be more concise. Target %d-%d words by combining ideas and removing repetition.", r.Min, r.Max)
	case wordCount < r.Max:
		feedback["status"] = "below_recommended"
		feedback["message"] = fmt.Sprintf("Word count (%d) is within range but could be developed further.", wordCount)
		feedback["suggestion"] = fmt.Sprintf("Consider adding more detail to reach %d-%d words.", r.Min, r.Max)
	}

	return feedback
}
