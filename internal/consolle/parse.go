package consolle

import (
	"regexp"
	"strings"
)

// EvalResult is the internal shape an eval call resolves to, translated by
// the broker into response envelope fields (spec.md 3 "Eval result").
type EvalResult struct {
	Success       bool
	Output        string
	ExecutionTime float64
	Truncated     bool
	ErrorClass    string
	ErrorCode     string
	Message       string
	Backtrace     []string
}

// echoedInjectionLine matches the echoed command itself, which the PTY
// reflects back before the child's own output.
var echoedInjectionLine = regexp.MustCompile(`eval\(Base64\.decode64|load\(`)

// reprogrammingArtifact matches known noise left over from the REPL
// reprogramming sequence sent right after spawn (spec.md 4.4.2 step 6b).
var reprogrammingArtifact = regexp.MustCompile(`^(nil|IRB\.conf.*|DISABLE_PRY_RAILS.*|__consolle_init_\d+__)$`)

// exceptionLine recognizes the canonical "ClassName: message" shape the
// injected wrapper's rescue clause prints. Per spec.md's open question, this
// alone is ambiguous if user code legitimately prints a line shaped like an
// exception; we resolve that ambiguity with a sentinel wrapper (see
// exceptionSentinel below) while still falling back to the bare pattern for
// output the sentinel didn't wrap (e.g. from embed-mode or older configs).
var exceptionLine = regexp.MustCompile(`^((?:[A-Za-z_][\w]*::)*[A-Za-z_][\w]*(?:Error|Exception)): (.*)$`)

// exceptionSentinel brackets a canonical "class: message" line the injected
// wrapper prints so the parser can trust it unconditionally instead of
// pattern-matching arbitrary user output that merely looks the same shape.
// This resolves spec.md section 9's open question by having the wrapper
// mark its own error line rather than tightening the bare regex, which
// would still misfire on deliberately crafted user output.
const exceptionSentinelPrefix = "\x1e\x1f ERR "
const exceptionSentinelSuffix = " \x1f\x1e"

func wrapExceptionLine(classAndMessage string) string {
	return exceptionSentinelPrefix + classAndMessage + exceptionSentinelSuffix
}

// ParseOutput implements spec.md 4.4.2 step 6: sanitize, split into lines,
// drop echo/reprogramming noise and bare prompt lines, then scan for the
// first recognizable exception line.
func ParseOutput(raw []byte, matcher *PromptMatcher) EvalResult {
	clean := Sanitize(raw)
	lines := strings.Split(clean, "\n")

	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "" {
			continue
		}
		if echoedInjectionLine.MatchString(trimmed) {
			continue
		}
		if reprogrammingArtifact.MatchString(strings.TrimSpace(trimmed)) {
			continue
		}
		if matcher.Match(trimmed) && !strings.HasPrefix(strings.TrimSpace(trimmed), "=> ") {
			continue
		}
		if trimmed == timeoutMarker {
			return EvalResult{Success: false, ErrorCode: ErrExecutionTimeout, Message: "evaluation timed out"}
		}
		kept = append(kept, trimmed)
	}

	for i, line := range kept {
		if class, message, ok := matchSentinelException(line); ok {
			return buildErrorResult(class, message, kept[i+1:])
		}
		if m := exceptionLine.FindStringSubmatch(line); m != nil {
			return buildErrorResult(m[1], m[2], kept[i+1:])
		}
	}

	return EvalResult{Success: true, Output: strings.Join(kept, "\n")}
}

func matchSentinelException(line string) (class, message string, ok bool) {
	if !strings.HasPrefix(line, exceptionSentinelPrefix) || !strings.HasSuffix(line, exceptionSentinelSuffix) {
		return "", "", false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(line, exceptionSentinelPrefix), exceptionSentinelSuffix)
	parts := strings.SplitN(body, ": ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func buildErrorResult(class, message string, backtrace []string) EvalResult {
	return EvalResult{
		Success:    false,
		ErrorClass: class,
		ErrorCode:  errorCodeForClass(class),
		Message:    message,
		Backtrace:  backtrace,
	}
}

// maxOutputBytes is the truncation limit from spec.md 4.4.2 step 5.
const maxOutputBytes = 100 * 1024

// TruncateOutput enforces the 100 KB collected-output cap, reporting
// whether truncation occurred.
func TruncateOutput(buf []byte) (out []byte, truncated bool) {
	if len(buf) <= maxOutputBytes {
		return buf, false
	}
	return buf[:maxOutputBytes], true
}
