package consolle

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"
)

// inlineInjectionLimit is the UTF-8 byte threshold above which code is
// written to a temp file and `load`ed instead of base64-encoded inline.
// Keeping small payloads off disk avoids a filesystem round-trip for the
// overwhelming majority of calls; large payloads avoid PTY-line-length and
// shell-quoting hazards that an inline base64 blob would hit.
const inlineInjectionLimit = 1000

// timeoutMarker is printed by the injected wrapper when its own inner
// Timeout.timeout fires, letting the output parser recognize a clean
// timeout distinct from the outer Supervisor-level deadline in supervisor.go's Eval.
const timeoutMarker = "__consolle_timeout__"

// buildInjection returns the line to write to the child's stdin for one
// eval call, and — for the temp-file strategy — the path of the file that
// must exist until the call's ensure block unlinks it (empty otherwise).
//
// code is first forced to be valid UTF-8 (tolerating already-valid raw byte
// input) before either strategy encodes it, matching spec.md 4.4.2 step 2.
func buildInjection(code string, timeout time.Duration, projectRoot string) (line string, tempFile string, err error) {
	if !utf8.ValidString(code) {
		code = toValidUTF8(code)
	}

	t := int(timeout.Seconds())
	if t < 1 {
		t = 1
	}

	if len(code) <= inlineInjectionLimit {
		encoded := base64.StdEncoding.EncodeToString([]byte(code))
		line = fmt.Sprintf(
			"begin; require 'timeout'; Timeout.timeout(%d) { eval(Base64.decode64(%q).force_encoding('UTF-8'), binding) }; rescue Timeout::Error => e; puts %q; nil; rescue Exception => e; puts %q + \"#{e.class}: #{e.message}\" + %q; nil; end",
			t-1, encoded, timeoutMarker, exceptionSentinelPrefix, exceptionSentinelSuffix,
		)
		return line, "", nil
	}

	f, err := os.CreateTemp(tempDirFor(projectRoot), "consolle-eval-*.rb")
	if err != nil {
		return "", "", fmt.Errorf("create temp file for oversize eval: %w", err)
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", "", fmt.Errorf("write temp file for oversize eval: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", "", fmt.Errorf("close temp file for oversize eval: %w", err)
	}

	line = fmt.Sprintf(
		"begin; require 'timeout'; Timeout.timeout(%d) { load(%q) }; rescue Timeout::Error => e; puts %q; nil; rescue Exception => e; puts %q + \"#{e.class}: #{e.message}\" + %q; puts e.backtrace.first(5); nil; ensure; File.delete(%q) if File.exist?(%q); end",
		t-1, f.Name(), timeoutMarker, exceptionSentinelPrefix, exceptionSentinelSuffix, f.Name(), f.Name(),
	)
	return line, f.Name(), nil
}

// tempDirFor returns <projectRoot>/tmp, matching spec.md section 6's
// filesystem layout for oversize-code temp files.
func tempDirFor(projectRoot string) string {
	dir := filepath.Join(projectRoot, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.TempDir()
	}
	return dir
}

// toValidUTF8 replaces invalid byte sequences with the Unicode replacement
// character so injected code is always well-formed UTF-8, per spec.md
// 4.4.2's "re-encode as UTF-8, tolerating raw-byte inputs" requirement.
func toValidUTF8(s string) string {
	out := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, utf8.RuneError)
			i++
			continue
		}
		out = append(out, r)
		i += size
	}
	return string(out)
}

// probeStatement is the pre-exec health check's probe line (spec.md 4.4.2
// step 1): a statement that prints a marker the health check looks for
// either as the marker text itself or as the arrival of a fresh prompt.
const probeMarker = "__consolle_probe__"

func probeStatement() string {
	return "puts " + strconv.Quote(probeMarker)
}

// readyMarkerStatement builds the line used during remote-child spawn handshaking (spec.md
// 4.4.1's "remote children receive extra treatment") to drain pre-prompt
// noise from an SSH/docker wrapper before trusting the prompt.
func readyMarkerStatement(marker string) string {
	return "puts " + strconv.Quote(marker)
}
