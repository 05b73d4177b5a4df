package consolle

import "regexp"

// csiSeq matches a CSI sequence: ESC '[' followed by any number of parameter
// and intermediate bytes, terminated by a single final byte in 0x40-0x7e.
var csiSeq = regexp.MustCompile("\x1b\\[[0-9;?]*[ -/]*[@-~]")

// twoByteEsc matches the two-byte escape sequences ESC<, ESC>, ESC=.
var twoByteEsc = regexp.MustCompile("\x1b[<>=]")

// c0c1 matches C0/C1 control characters except TAB, LF, CR, and the two
// sentinel bytes U+001E and U+001F that the prompt matcher depends on.
var c0c1 = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1d\x7f\\x{80}-\\x{9f}]")

var crlf = regexp.MustCompile("\r\n")
var lonelyCR = regexp.MustCompile("\r")

// Sanitize strips ANSI/VT control sequences from raw PTY output and
// normalizes line endings to LF, returning a string safe to test against the
// prompt matcher or to return to a client. It is pure and total: any byte
// sequence, including invalid UTF-8, produces some string without panicking.
func Sanitize(raw []byte) string {
	s := string(raw)
	s = crlf.ReplaceAllString(s, "\n")
	s = lonelyCR.ReplaceAllString(s, "\n")
	s = csiSeq.ReplaceAllString(s, "")
	s = twoByteEsc.ReplaceAllString(s, "")
	s = c0c1.ReplaceAllString(s, "")
	return s
}
