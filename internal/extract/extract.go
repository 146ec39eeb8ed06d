package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/curatrack/curatrack/internal/ocr"
)

// Locale carries the caller-supplied date-ordering convention. Ambiguous
// numeric dates like 03/04/2025 are resolved by it, never guessed.
type Locale struct {
	DayFirst bool
}

// DateCandidate is one date-like token found in the scanned text
type DateCandidate struct {
	Date        time.Time // local midnight of the matched calendar date
	Confidence  float64
	NearKeyword bool // an expiry keyword appears on the same or an adjacent line
	Raw         string
}

// Result contains the structured fields extracted from a scan. Absence of a
// date is a normal result: ExpiryCandidates may be empty.
type Result struct {
	Title            string
	ExpiryCandidates []DateCandidate
}

// FallbackTitle is used when no line qualifies as a title
const FallbackTitle = "Untitled scan"

var (
	// Matchers in priority order: unambiguous ISO first, month names second,
	// locale-dependent numeric last.
	isoPattern      = regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`)
	monthDayPattern = regexp.MustCompile(`(?i)\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?[ \-]?(\d{1,2})(?:st|nd|rd|th)?,?[ \-]?(\d{2,4})\b`)
	dayMonthPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?[ \-.]?(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?[ \-.]?(\d{2,4})\b`)
	numericPattern  = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2,4})\b`)
	expiryKeywords  = regexp.MustCompile(`(?i)\b(exp|expiry|expires?|expiration|best before|best by|use by|use before|bbe?|bb date)\b`)
	letterPattern   = regexp.MustCompile(`[A-Za-z]`)
)

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Extract scans recognized lines for date-like tokens and a display title.
// It is pure and deterministic: identical lines and locale always yield an
// identical Result, so stored source text can be re-extracted safely.
func Extract(lines []ocr.Line, loc Locale) Result {
	var candidates []DateCandidate
	dateLine := make([]bool, len(lines))

	for i, line := range lines {
		dates := datesInLine(line.Text, loc)
		if len(dates) == 0 {
			continue
		}
		dateLine[i] = true
		near := keywordNear(lines, i)
		for _, d := range dates {
			candidates = append(candidates, DateCandidate{
				Date:        d.date,
				Confidence:  line.Confidence,
				NearKeyword: near,
				Raw:         d.raw,
			})
		}
	}

	return Result{
		Title:            titleOf(lines, dateLine),
		ExpiryCandidates: candidates,
	}
}

// Best selects the expiry candidate per the ranking: highest confidence,
// then keyword proximity, then latest date. Returns false when there are
// no candidates.
func Best(candidates []DateCandidate) (DateCandidate, bool) {
	if len(candidates) == 0 {
		return DateCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

func better(a, b DateCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.NearKeyword != b.NearKeyword {
		return a.NearKeyword
	}
	// Two equally plausible dates: favor the later one, an expiry date
	// follows the manufacture date.
	return a.Date.After(b.Date)
}

// SourceText flattens recognized lines into the raw text retained on the Item
func SourceText(lines []ocr.Line) string {
	texts := make([]string, 0, len(lines))
	for _, l := range lines {
		texts = append(texts, l.Text)
	}
	return strings.Join(texts, "\n")
}

// LinesFromText rebuilds a line sequence from stored source text for
// re-extraction. Geometry is lost; confidence is neutral and uniform so the
// ranking degrades to keyword proximity and date ordering.
func LinesFromText(raw string) []ocr.Line {
	var lines []ocr.Line
	for _, t := range strings.Split(raw, "\n") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		lines = append(lines, ocr.Line{Text: t, Confidence: 0.5})
	}
	return lines
}

type match struct {
	date  time.Time
	raw   string
	start int
	end   int
}

// datesInLine runs the matchers in priority order, skipping spans already
// claimed by a higher-priority pattern.
func datesInLine(text string, loc Locale) []match {
	var out []match
	claimed := func(s, e int) bool {
		for _, m := range out {
			if s < m.end && e > m.start {
				return true
			}
		}
		return false
	}

	for _, idx := range isoPattern.FindAllStringSubmatchIndex(text, -1) {
		y, _ := strconv.Atoi(text[idx[2]:idx[3]])
		mo, _ := strconv.Atoi(text[idx[4]:idx[5]])
		d, _ := strconv.Atoi(text[idx[6]:idx[7]])
		if dt, ok := makeDate(y, mo, d); ok {
			out = append(out, match{date: dt, raw: text[idx[0]:idx[1]], start: idx[0], end: idx[1]})
		}
	}

	for _, idx := range dayMonthPattern.FindAllStringSubmatchIndex(text, -1) {
		if claimed(idx[0], idx[1]) {
			continue
		}
		d, _ := strconv.Atoi(text[idx[2]:idx[3]])
		mo := monthsByPrefix[strings.ToLower(text[idx[4]:idx[5]])]
		y := expandYear(text[idx[6]:idx[7]])
		if dt, ok := makeDate(y, int(mo), d); ok {
			out = append(out, match{date: dt, raw: text[idx[0]:idx[1]], start: idx[0], end: idx[1]})
		}
	}

	for _, idx := range monthDayPattern.FindAllStringSubmatchIndex(text, -1) {
		if claimed(idx[0], idx[1]) {
			continue
		}
		mo := monthsByPrefix[strings.ToLower(text[idx[2]:idx[3]])]
		d, _ := strconv.Atoi(text[idx[4]:idx[5]])
		y := expandYear(text[idx[6]:idx[7]])
		if dt, ok := makeDate(y, int(mo), d); ok {
			out = append(out, match{date: dt, raw: text[idx[0]:idx[1]], start: idx[0], end: idx[1]})
		}
	}

	for _, idx := range numericPattern.FindAllStringSubmatchIndex(text, -1) {
		if claimed(idx[0], idx[1]) {
			continue
		}
		a, _ := strconv.Atoi(text[idx[2]:idx[3]])
		b, _ := strconv.Atoi(text[idx[4]:idx[5]])
		y := expandYear(text[idx[6]:idx[7]])

		d, mo := a, b
		if !loc.DayFirst {
			d, mo = b, a
		}
		dt, ok := makeDate(y, mo, d)
		if !ok {
			// The locale order produced an impossible date; the swapped
			// order is accepted only when it is the sole valid reading.
			dt, ok = makeDate(y, d, mo)
		}
		if ok {
			out = append(out, match{date: dt, raw: text[idx[0]:idx[1]], start: idx[0], end: idx[1]})
		}
	}

	return out
}

// makeDate validates the calendar components and returns local midnight
func makeDate(y, mo, d int) (time.Time, bool) {
	if y < 1970 || y > 2200 || mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	dt := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.Local)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject those
	if dt.Day() != d || dt.Month() != time.Month(mo) {
		return time.Time{}, false
	}
	return dt, true
}

// expandYear maps two-digit years onto 20xx; printed expiry dates do not
// reach back into the previous century.
func expandYear(s string) int {
	y, _ := strconv.Atoi(s)
	if len(s) == 2 {
		return 2000 + y
	}
	return y
}

// keywordNear reports whether an expiry keyword appears on line i or an
// adjacent line.
func keywordNear(lines []ocr.Line, i int) bool {
	for j := i - 1; j <= i+1; j++ {
		if j < 0 || j >= len(lines) {
			continue
		}
		if expiryKeywords.MatchString(lines[j].Text) {
			return true
		}
	}
	return false
}

// titleOf picks the longest all-caps or title-cased line that was not matched
// as a date and is not an expiry keyword line. Falls back so the title is
// never empty downstream.
func titleOf(lines []ocr.Line, dateLine []bool) string {
	best := ""
	for i, line := range lines {
		if dateLine[i] {
			continue
		}
		t := strings.TrimSpace(line.Text)
		if !letterPattern.MatchString(t) {
			continue
		}
		if expiryKeywords.MatchString(t) {
			continue
		}
		if !isAllCaps(t) && !isTitleCased(t) {
			continue
		}
		if len(t) > len(best) {
			best = t
		}
	}
	if best == "" {
		return FallbackTitle
	}
	return best
}

func isAllCaps(s string) bool {
	return s == strings.ToUpper(s)
}

func isTitleCased(s string) bool {
	for _, w := range strings.Fields(s) {
		r := rune(w[0])
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}
