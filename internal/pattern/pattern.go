// Package pattern normalizes, validates and compiles highlight terms.
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"highlight_bot/internal/model"
)

// MaxListingLength is the longest allowed rendered listing of words or of regexes.
const MaxListingLength = 1024

// Word boundaries that also hold for non-ASCII letters, unlike RE2's \b.
const (
	boundaryStart = `(?:^|[^\pL\pN_])`
	boundaryEnd   = `(?:[^\pL\pN_]|$)`
)

var (
	// ErrInvalid is returned for a pattern that does not compile.
	ErrInvalid = errors.New("invalid regex")
	// ErrEmpty is returned for a blank term.
	ErrEmpty = errors.New("empty term")
)

// IsRegexInput reports whether raw user input is slash-delimited.
func IsRegexInput(input string) bool {
	return len(input) >= 2 && strings.HasPrefix(input, "/") && strings.HasSuffix(input, "/")
}

// Parse turns raw user input into a term.
// Slash-delimited input is a raw regular expression and keeps caseSensitive.
// Anything else is a literal word: quoted, anchored on word boundaries and
// always case-insensitive.
func Parse(input string, caseSensitive bool) (model.Term, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return model.Term{}, ErrEmpty
	}

	if IsRegexInput(input) {
		expr := input[1 : len(input)-1]
		if strings.TrimSpace(expr) == "" {
			return model.Term{}, ErrEmpty
		}
		if err := Validate(expr, caseSensitive); err != nil {
			return model.Term{}, err
		}
		return model.Term{
			Pattern:       expr,
			Display:       DisplayFor(input),
			CaseSensitive: caseSensitive,
			Regex:         true,
		}, nil
	}

	expr := boundaryStart + regexp.QuoteMeta(strings.ToLower(input)) + boundaryEnd
	if err := Validate(expr, false); err != nil {
		// QuoteMeta output always compiles.
		return model.Term{}, fmt.Errorf("escaped pattern %q: %w", expr, err)
	}
	return model.Term{
		Pattern: expr,
		Display: input,
	}, nil
}

// DisplayFor returns the display form of raw user input.
// Regexes are wrapped in backticks to set them apart from words.
func DisplayFor(input string) string {
	input = strings.TrimSpace(input)
	if IsRegexInput(input) {
		return "`" + input + "`"
	}
	return input
}

// Compile compiles a stored term.
func Compile(t model.Term) (*regexp.Regexp, error) {
	return compile(t.Pattern, t.CaseSensitive)
}

func compile(expr string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return re, nil
}

// Validate checks that a pattern compiles and can be executed.
func Validate(expr string, caseSensitive bool) error {
	re, err := compile(expr, caseSensitive)
	if err != nil {
		return err
	}
	re.MatchString("")
	return nil
}

// Listing renders the words (regexes=false) or the regexes (regexes=true)
// of a term list, one per line.
func Listing(terms []model.Term, regexes bool) string {
	var lines []string
	for _, t := range terms {
		if t.IsRegex() == regexes {
			lines = append(lines, t.Display)
		}
	}
	return strings.Join(lines, "\n")
}

// FitsListing reports whether both listings of terms stay within
// MaxListingLength characters.
func FitsListing(terms []model.Term) bool {
	return utf8.RuneCountInString(Listing(terms, false)) <= MaxListingLength &&
		utf8.RuneCountInString(Listing(terms, true)) <= MaxListingLength
}

// Cache holds compiled patterns keyed by expression and case sensitivity.
// It is safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	res map[cacheKey]*regexp.Regexp
}

type cacheKey struct {
	expr          string
	caseSensitive bool
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{res: make(map[cacheKey]*regexp.Regexp)}
}

// Get returns the compiled form of t, compiling it on first use.
// Compilation errors are not cached.
func (c *Cache) Get(t model.Term) (*regexp.Regexp, error) {
	k := cacheKey{expr: t.Pattern, caseSensitive: t.CaseSensitive}

	c.mu.RLock()
	re, ok := c.res[k]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := Compile(t)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.res[k] = re
	c.mu.Unlock()
	return re, nil
}

// Len returns the number of cached patterns.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.res)
}
