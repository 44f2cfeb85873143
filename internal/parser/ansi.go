package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// CSI sequences, OSC sequences terminated by BEL or ST, DCS/SOS/PM/APC
	// strings, charset selection and keypad mode switches.
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?<>=]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[PX^_][^\x1b]*\x1b\\|\x1b[\(\)][AB012]|\x1b[>=78NOMDEHc]`)

	// Control characters except tab, newline and carriage return.
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1a\x1c-\x1f\x7f]`)

	// CSI n C moves the cursor right; terminals use it in place of runs of spaces.
	cursorForwardPattern = regexp.MustCompile(`\x1b\[(\d*)C`)
)

// maxCursorForward bounds the spaces a single cursor-forward expands to.
const maxCursorForward = 200

// StripANSI removes escape sequences and control characters from text.
// Cursor-forward sequences become spaces so column layout survives.
func StripANSI(text string) string {
	if !strings.ContainsAny(text, "\x1b\x7f") && !controlPattern.MatchString(text) {
		return text
	}

	text = cursorForwardPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := cursorForwardPattern.FindStringSubmatch(match)
		count := 1
		if len(sub) > 1 && sub[1] != "" {
			if n, err := strconv.Atoi(sub[1]); err == nil && n > 0 {
				count = min(n, maxCursorForward)
			}
		}
		return strings.Repeat(" ", count)
	})
	text = ansiPattern.ReplaceAllString(text, "")
	// A lone ESC left over from a split or unknown sequence.
	text = strings.ReplaceAll(text, "\x1b", "")
	return controlPattern.ReplaceAllString(text, "")
}

// cleanLine turns one raw terminal line into the text a reader would see:
// escapes stripped, carriage-return overwrites applied, trailing space trimmed.
func cleanLine(raw string) string {
	line := StripANSI(raw)
	line = strings.TrimRight(line, "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	return strings.TrimRight(line, " \t")
}
