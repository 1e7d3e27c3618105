package dialplan

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single pattern evaluation so a pathological
// backtracking pattern cannot stall the signaling path.
const matchTimeout = 50 * time.Millisecond

// MatchResult is the outcome of evaluating a pattern against a dialed number.
type MatchResult struct {
	Matched bool

	// Full is the whole matched string ($0).
	Full string

	// Captures holds the groups in number order; Captures[0] is $1.
	Captures []string

	// Named holds named groups, e.g. ${areaCode}.
	Named map[string]string
}

// Pattern is a compiled dialplan pattern. It is safe for concurrent use.
type Pattern struct {
	source string
	re     *regexp2.Regexp
}

// patternOptions selects ECMAScript semantics: \d, \w and \s are ASCII
// only, as they are in the switch's PCRE.
const patternOptions = regexp2.ECMAScript

// Compile validates a dial-string pattern and prepares it for matching.
// Patterns always match the whole candidate: the expression is anchored at
// both ends whether or not it carries its own ^ and $.
//
// A pattern may use named groups or unnamed groups but not both, since the
// two engines that evaluate it number such a mix differently.
func Compile(pattern string) (*Pattern, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, &PatternError{Pattern: pattern, Err: errors.New("empty pattern")}
	}

	// Compile the bare pattern first so unbalanced groups are not masked by
	// the wrapping group below.
	bare, err := regexp2.Compile(pattern, patternOptions)
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Err: err}
	}
	if mixesGroupKinds(bare) {
		return nil, &PatternError{Pattern: pattern, Err: errors.New("named and unnamed groups cannot be mixed")}
	}

	re, err := regexp2.Compile(`\A(?:`+pattern+`)\z`, patternOptions)
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Err: err}
	}
	re.MatchTimeout = matchTimeout

	return &Pattern{source: pattern, re: re}, nil
}

func mixesGroupKinds(re *regexp2.Regexp) bool {
	var named, unnamed bool
	for _, name := range re.GetGroupNames()[1:] {
		if _, err := strconv.Atoi(name); err == nil {
			unnamed = true
		} else {
			named = true
		}
	}
	return named && unnamed
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.source
}

// Match evaluates the pattern against candidate.
func (p *Pattern) Match(candidate string) (MatchResult, error) {
	m, err := p.re.FindStringMatch(candidate)
	if err != nil {
		return MatchResult{}, &PatternError{Pattern: p.source, Err: err}
	}
	if m == nil {
		return MatchResult{}, nil
	}

	groups := m.Groups()
	result := MatchResult{
		Matched:  true,
		Full:     m.String(),
		Captures: make([]string, 0, len(groups)-1),
		Named:    make(map[string]string),
	}
	for _, g := range groups[1:] {
		result.Captures = append(result.Captures, g.String())
		if _, err := strconv.Atoi(g.Name); err != nil {
			result.Named[g.Name] = g.String()
		}
	}
	return result, nil
}

// Match compiles pattern and evaluates it against candidate.
func Match(pattern, candidate string) (MatchResult, error) {
	p, err := Compile(pattern)
	if err != nil {
		return MatchResult{}, err
	}
	return p.Match(candidate)
}

// Expand substitutes capture references in template. $N and ${N} refer to
// numbered groups ($0 is the whole match) and ${name} to named groups. $N
// takes every digit that follows, so $10 is group ten; write ${1}0 for group
// one followed by a literal zero.
// Numbered references without a group expand to nothing. ${name} references
// that are not capture names are left intact so switch channel variables
// such as ${domain_name} survive.
func Expand(template string, r MatchResult) string {
	if !strings.Contains(template, "$") {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 >= len(template) {
			b.WriteByte(c)
			continue
		}

		next := template[i+1]
		switch {
		case isDigit(next):
			end := i + 1
			for end < len(template) && isDigit(template[end]) {
				end++
			}
			n, err := strconv.Atoi(template[i+1 : end])
			if err == nil {
				b.WriteString(r.group(n))
			}
			i = end - 1
		case next == '{':
			end := strings.IndexByte(template[i+2:], '}')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			ref := template[i+2 : i+2+end]
			if n, err := strconv.Atoi(ref); err == nil && n >= 0 {
				b.WriteString(r.group(n))
			} else if v, ok := r.Named[ref]; ok {
				b.WriteString(v)
			} else {
				b.WriteString(template[i : i+3+end])
			}
			i += 2 + end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (r MatchResult) group(n int) string {
	if n == 0 {
		return r.Full
	}
	if n <= len(r.Captures) {
		return r.Captures[n-1]
	}
	return ""
}
