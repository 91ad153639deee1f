package classify

import (
	"regexp"
	"strings"
)

const esc = "\x1b"

var (
	// ESC [ ... : CSI sequences with parameter bytes 0-9;? followed by
	// intermediate (0x20-0x2F) and a final byte (0x40-0x7E).
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

	// Any two-byte ESC-introduced sequence that survived the CSI pass.
	escPairPattern = regexp.MustCompile(`\x1b.`)

	// MM/DD/YY HH:MM:SS NNN receipt timestamp.
	timestampPattern = regexp.MustCompile(`\d{2}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} \d{3}`)

	// Token-start markers for the mashed header+cashier heuristic.
	stMarker  = regexp.MustCompile(`(?:^| )ST#`)
	cshMarker = regexp.MustCompile(`(?:^| )CSH:`)
)

// Clean strips printer control codes from a single logical line and returns
// the remaining printable text with surrounding whitespace trimmed.
//
// Rules, applied in order:
//  1. Remove the sequences ESC c0 and ESC ! NUL wherever they occur.
//  2. Strip CSI sequences (ESC [ ...).
//  3. Strip any remaining two-byte ESC sequence.
//  4. Drop bytes outside printable ASCII except CR and LF.
//  5. Drop a leading literal "c0" that survived step 1.
func Clean(raw []byte) string {
	s := string(raw)

	s = strings.ReplaceAll(s, esc+"c0", "")
	s = strings.ReplaceAll(s, esc+"!\x00", "")
	s = csiPattern.ReplaceAllString(s, "")
	s = escPairPattern.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 0x20 && c <= 0x7e) || c == '\r' || c == '\n' {
			b.WriteByte(c)
		}
	}
	s = strings.TrimSpace(b.String())

	// A bare "c0" at line start is the tail of a reset sequence whose ESC
	// byte was lost upstream.
	s = strings.TrimSpace(strings.TrimPrefix(s, "c0"))

	return s
}

// SplitMashed splits a cleaned line that physically concatenates two logical
// receipt lines. The common case is the end-of-receipt "ST# DR# TRAN#" header
// arriving in the same read as the following "CSH:" cashier stamp.
//
// If the line contains both " ST#" and " CSH:", it is split at the receipt
// timestamp immediately preceding the CSH: marker. Otherwise, if the line
// contains two timestamps, it is split at the second. A line that matches
// neither heuristic is returned unchanged.
func SplitMashed(s string) []string {
	if stMarker.MatchString(s) && cshMarker.MatchString(s) {
		csh := strings.Index(s, "CSH:")
		locs := timestampPattern.FindAllStringIndex(s[:csh], -1)
		if len(locs) > 0 {
			cut := locs[len(locs)-1][0]
			return splitAt(s, cut)
		}
	}

	locs := timestampPattern.FindAllStringIndex(s, -1)
	if len(locs) >= 2 {
		return splitAt(s, locs[1][0])
	}

	return []string{s}
}

func splitAt(s string, i int) []string {
	first := strings.TrimSpace(s[:i])
	second := strings.TrimSpace(s[i:])
	if first == "" {
		return []string{second}
	}
	if second == "" {
		return []string{first}
	}
	return []string{first, second}
}
