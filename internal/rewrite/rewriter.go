// Package rewrite applies user substitution rules to displayed transcripts.
//
// A rules file holds one rule per line:
//
//	pull request => PR              case-insensitive literal
//	s/\bdeep\s*gram\b/Deepgram/g    sed-style regex, flags i g m s
//
// Blank lines and lines starting with # are ignored.
package rewrite

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

const defaultIterationLimit = 30

// Rewriter applies its rules repeatedly until the text is stable.
type Rewriter struct {
	rules []rule
	limit int
}

type rule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

// Load reads rules from path. A blank path or missing file yields a
// rewriter without rules.
func Load(path string, limit int) (*Rewriter, error) {
	if strings.TrimSpace(path) == "" {
		return newRewriter(nil, limit), nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newRewriter(nil, limit), nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}
	defer file.Close()

	rules, err := parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return newRewriter(rules, limit), nil
}

// Parse compiles rules from r.
func Parse(r io.Reader, limit int) (*Rewriter, error) {
	rules, err := parse(r)
	if err != nil {
		return nil, err
	}
	return newRewriter(rules, limit), nil
}

func newRewriter(rules []rule, limit int) *Rewriter {
	if limit <= 0 {
		limit = defaultIterationLimit
	}
	return &Rewriter{rules: rules, limit: limit}
}

// Len reports how many rules are loaded.
func (r *Rewriter) Len() int {
	return len(r.rules)
}

// Apply rewrites text. It never fails; the error return satisfies
// ports.TranscriptRewriter.
func (r *Rewriter) Apply(text string) (string, error) {
	for pass := 0; pass < r.limit; pass++ {
		changed := false
		for _, rl := range r.rules {
			next := rl.apply(text)
			if next != text {
				text = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return text, nil
}

func (rl rule) apply(text string) string {
	if !rl.firstOnly {
		return rl.re.ReplaceAllString(text, rl.replacement)
	}
	loc := rl.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	expanded := rl.re.ExpandString(nil, rl.replacement, text, loc)
	return text[:loc[0]] + string(expanded) + text[loc[1]:]
}

func parse(r io.Reader) ([]rule, error) {
	var rules []rule
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			rl  rule
			err error
		)
		switch {
		case isSedRule(line):
			rl, err = parseSed(line)
		case strings.Contains(line, "=>"):
			rl, err = parseLiteral(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rules = append(rules, rl)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func parseLiteral(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}
	return rule{
		re:          regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)),
		replacement: escapeDollars(strings.TrimSpace(to)),
	}, nil
}

// parseSed compiles s<d>pattern<d>replacement<d>flags. Matching is case
// insensitive unless the pattern sets its own flags; without g only the first
// match is replaced.
func parseSed(line string) (rule, error) {
	delim := line[1]
	fields, rest, err := splitDelimited(line[2:], delim, 2)
	if err != nil {
		return rule{}, err
	}

	flags := "i"
	firstOnly := true
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			firstOnly = false
		case 'i':
		case 'm', 's':
			flags += string(flag)
		case ' ':
		default:
			return rule{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + flags + ")" + fields[0])
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex: %w", err)
	}
	return rule{re: re, replacement: fields[1], firstOnly: firstOnly}, nil
}

// splitDelimited reads n delimiter-terminated fields. A backslash keeps the
// next byte; an escaped delimiter loses its backslash.
func splitDelimited(s string, delim byte, n int) ([]string, string, error) {
	fields := make([]string, 0, n)
	var current strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			if s[i] != delim {
				current.WriteByte('\\')
			}
			current.WriteByte(s[i])
		case c == delim:
			fields = append(fields, current.String())
			current.Reset()
			if len(fields) == n {
				return fields, s[i+1:], nil
			}
		default:
			current.WriteByte(c)
		}
	}
	return nil, "", errors.New("unterminated expression")
}

func isSedRule(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	d := line[1]
	return !(d >= 'a' && d <= 'z' || d >= 'A' && d <= 'Z' || d >= '0' && d <= '9' || d == ' ' || d == '\t')
}

func escapeDollars(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
