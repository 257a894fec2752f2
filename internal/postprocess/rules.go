package postprocess

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const DefaultIterationLimit = 30

// ErrNoFixpoint is returned when the rules still change the text after the
// iteration limit, which usually means two rules undo each other.
var ErrNoFixpoint = errors.New("substitution rules did not converge")

type rule interface {
	apply(input string) (output string, changed bool)
}

// Rules is an ordered, compiled substitution list. Supported lines:
//
//	from => to                  case-insensitive literal, whole words
//	re:/pattern/flags => to     regular expression, $1 style references
//	s/pattern/to/flags          sed style, first match unless g is given
//
// Blank lines and lines starting with # are ignored.
type Rules struct {
	rules          []rule
	iterationLimit int
}

// Load reads rules from path. A missing or empty path yields no rules.
func Load(path string, iterationLimit int) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Parse("", iterationLimit)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse("", iterationLimit)
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	rules, err := Parse(string(contents), iterationLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return rules, nil
}

func Parse(contents string, iterationLimit int) (*Rules, error) {
	if iterationLimit <= 0 {
		iterationLimit = DefaultIterationLimit
	}

	lines := strings.Split(contents, "\n")
	compiled := make([]rule, 0, len(lines))
	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			r   rule
			err error
		)
		switch {
		case strings.HasPrefix(line, "re:"):
			r, err = parsePatternRule(line[len("re:"):])
		case strings.Contains(line, "=>"):
			r, err = parseLiteralRule(line)
		case looksLikeSedRule(line):
			r, err = parseSedRule(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		compiled = append(compiled, r)
	}

	return &Rules{rules: compiled, iterationLimit: iterationLimit}, nil
}

func (r *Rules) Len() int {
	return len(r.rules)
}

// Apply runs every rule in order until a pass changes nothing.
func (r *Rules) Apply(text string) (string, error) {
	if len(r.rules) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < r.iterationLimit; i++ {
		changed := false
		for _, rule := range r.rules {
			if next, ok := rule.apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}
	return result, ErrNoFixpoint
}

type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseLiteralRule(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if first, _ := utf8.DecodeRuneInString(from); isASCIIWord(first) {
		pattern = `\b` + pattern
	}
	if last, _ := utf8.DecodeLastRuneInString(from); isASCIIWord(last) {
		pattern += `\b`
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: to}, nil
}

func (r literalRule) apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type patternRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

// parsePatternRule parses "/pattern/flags => replacement".
func parsePatternRule(spec string) (rule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || isWordRune(rune(spec[0])) {
		return nil, errors.New("pattern must start with a delimiter such as /")
	}
	delim := spec[0]

	pattern, pos, err := parseDelimited(spec, 1, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	flags, replacement, ok := strings.Cut(spec[pos:], "=>")
	if !ok {
		return nil, errors.New("pattern rule needs => replacement")
	}
	re, global, err := compilePattern(pattern, strings.TrimSpace(flags), true)
	if err != nil {
		return nil, err
	}
	return patternRule{re: re, replacement: strings.TrimSpace(replacement), global: global}, nil
}

// parseSedRule parses "s/pattern/replacement/flags".
func parseSedRule(line string) (rule, error) {
	delim := line[1]
	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}
	re, global, err := compilePattern(pattern, strings.TrimSpace(line[pos:]), false)
	if err != nil {
		return nil, err
	}
	return patternRule{re: re, replacement: replacement, global: global}, nil
}

// compilePattern applies flags. Matching is case-insensitive unless c is given.
func compilePattern(pattern string, flags string, global bool) (*regexp.Regexp, bool, error) {
	ignoreCase, multiLine, dotAll := true, false, false
	for _, flag := range flags {
		switch flag {
		case 'i':
			ignoreCase = true
		case 'c':
			ignoreCase = false
		case 'g':
			global = true
		case 'm':
			multiLine = true
		case 's':
			dotAll = true
		case ' ':
		default:
			return nil, false, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	prefix := ""
	if ignoreCase {
		prefix += "i"
	}
	if multiLine {
		prefix += "m"
	}
	if dotAll {
		prefix += "s"
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false, fmt.Errorf("invalid regex: %w", err)
	}
	return re, global, nil
}

func (r patternRule) apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			if char != delim {
				builder.WriteByte('\\')
			}
			builder.WriteByte(char)
			escaped = false
		case char == '\\':
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		default:
			builder.WriteByte(char)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func looksLikeSedRule(line string) bool {
	return len(line) > 2 && line[0] == 's' && !isWordRune(rune(line[1])) && line[1] != ' '
}

// isASCIIWord matches the \b definition of the regexp package.
func isASCIIWord(r rune) bool {
	return r < utf8.RuneSelf && isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
