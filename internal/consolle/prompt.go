package consolle

import "regexp"

// SentinelPrompt is the fixed prompt string the supervisor programs into the
// child's REPL after the initial handshake. It is chosen to be impossible
// for user code to emit by accident and to survive ANSI scrubbing intact,
// since U+001E and U+001F are explicitly exempted by the sanitizer.
const SentinelPrompt = "\x1e\x1f<CONSOLLE>\x1f\x1e"

// defaultPromptPattern recognizes, on a single sanitized line: the sentinel
// prompt; a Rails-style app prompt ("app(dev)>", "app(dev):001>"); an IRB
// prompt ("irb(main):001:0>", "irb(main):002:1*"); or a bare ">>"/">". A
// leading run of non-word characters is tolerated since some remote
// runtimes prefix the prompt with a shell or locale indicator.
var defaultPromptPattern = regexp.MustCompile(
	`^[^\w]{0,4}(` +
		`\x1e\x1f<CONSOLLE>\x1f\x1e` +
		`|[A-Za-z_][\w.]*\([^)]*\)(:\d+)?>` +
		`|irb\([^)]*\):\d+:?\d*[>*]` +
		`|>>` +
		`|>` +
		`)\s*$`,
)

// PromptMatcher classifies a single stripped line of output as the child's
// ready-for-input prompt. The zero value uses the built-in pattern; callers
// needing a custom `prompt_pattern` from project config use NewPromptMatcher.
type PromptMatcher struct {
	re *regexp.Regexp
}

// NewPromptMatcher compiles a custom override pattern, e.g. from a
// project's .consolle.yml `prompt_pattern` key. An empty pattern uses the
// built-in default.
func NewPromptMatcher(pattern string) (*PromptMatcher, error) {
	if pattern == "" {
		return &PromptMatcher{re: defaultPromptPattern}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &PromptMatcher{re: re}, nil
}

// Match reports whether line is a prompt line.
func (m *PromptMatcher) Match(line string) bool {
	if m == nil || m.re == nil {
		return defaultPromptPattern.MatchString(line)
	}
	return m.re.MatchString(line)
}

// MatchAny reports whether any line in lines is a prompt line, and returns
// the index of the last such line (callers generally care about the final
// prompt in a chunk of collected output).
func (m *PromptMatcher) MatchAny(lines []string) (idx int, ok bool) {
	idx = -1
	for i, line := range lines {
		if m.Match(line) {
			idx, ok = i, true
		}
	}
	return idx, ok
}
