package quantity

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/stretchr/testify/assert"
)

// ErrUnrecognized is returned by Parse when a description matches none of
// the known quantity phrases. It is the invalid-argument condition callers
// test for with errors.Is.
var ErrUnrecognized = errors.New("unrecognized quantity description")

// Category is the kind of quantity a phrase describes.
type Category string

const (
	// CategoryNone matches phrases containing "no": exactly zero.
	CategoryNone Category = "none"

	// CategoryFew matches phrases containing "a few": 1 to 10.
	CategoryFew Category = "few"

	// CategoryMany matches "lot", "lots", "lots of", "a lot of", "many": 10 to 300.
	CategoryMany Category = "many"

	// CategorySome matches phrases containing "some": 1 to 1000.
	CategorySome Category = "some"

	// CategoryExact matches phrases containing a number: exactly that number.
	CategoryExact Category = "exact"
)

// String returns the string representation of Category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks whether the Category value is one of the defined categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryNone, CategoryFew, CategoryMany, CategorySome, CategoryExact:
		return true
	default:
		return false
	}
}

// Range is an inclusive interval of acceptable counts.
// Invariant: 0 <= Min <= Max.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether n lies within the range, bounds included.
func (r Range) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// String returns "[min, max]".
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// rule is one entry of the ordered classification table.
type rule struct {
	category Category
	pattern  *regexp.Regexp
	bounds   Range
}

// rules is tried top to bottom; the first match wins. The order matters:
// "no" is a substring of many longer descriptions ("nodes", "notifications")
// and still takes precedence, exactly like the harness always did.
var rules = []rule{
	{CategoryNone, regexp.MustCompile(`no`), Range{0, 0}},
	{CategoryFew, regexp.MustCompile(`a few`), Range{1, 10}},
	{CategoryMany, regexp.MustCompile(`(?:(?:a )?lots?(?: of)?|many)`), Range{10, 300}},
	{CategorySome, regexp.MustCompile(`some`), Range{1, 1000}},
}

// numberPattern extracts the first run of decimal digits for CategoryExact.
var numberPattern = regexp.MustCompile(`\d+`)

// Filter is a parsed quantity description. It is immutable once built.
type Filter struct {
	description string
	category    Category
	bounds      Range
}

// Parse classifies description and derives its acceptable range.
//
// Matching is case-sensitive and substring based, in this order:
// "no", "a few", "lot(s) (of)"/"many", "some", then any decimal number.
// A description matching none of them yields an error wrapping
// ErrUnrecognized; there is no default range.
func Parse(description string) (*Filter, error) {
	for _, r := range rules {
		if r.pattern.MatchString(description) {
			return &Filter{description: description, category: r.category, bounds: r.bounds}, nil
		}
	}

	if digits := numberPattern.FindString(description); digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil {
			// Only reachable for numbers overflowing int.
			return nil, fmt.Errorf("%w: %q: %v", ErrUnrecognized, description, err)
		}
		return &Filter{description: description, category: CategoryExact, bounds: Range{n, n}}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnrecognized, description)
}

// MustParse is like Parse but panics on an unrecognized description.
// It is meant for descriptions that are literals in test code.
func MustParse(description string) *Filter {
	f, err := Parse(description)
	if err != nil {
		panic(err)
	}
	return f
}

// Description returns the phrase the filter was built from.
func (f *Filter) Description() string { return f.description }

// Category returns the category the phrase was classified into.
func (f *Filter) Category() Category { return f.category }

// Range returns the inclusive range of acceptable counts.
func (f *Filter) Range() Range { return f.bounds }

// Check returns nil when observed lies within the filter's range and a
// *MismatchError otherwise.
func (f *Filter) Check(observed int) error {
	if f.bounds.Contains(observed) {
		return nil
	}
	return &MismatchError{Description: f.description, Expected: f.bounds, Observed: observed}
}

// Assert reports an out-of-range count as a failed assertion on t, the way
// any other testify assertion would, and returns whether the check passed.
func (f *Filter) Assert(t assert.TestingT, observed int, msgAndArgs ...interface{}) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if err := f.Check(observed); err != nil {
		return assert.Fail(t, err.Error(), msgAndArgs...)
	}
	return true
}

// String returns a short human-readable form, e.g. `"a few" (few [1, 10])`.
func (f *Filter) String() string {
	return fmt.Sprintf("%q (%s %s)", f.description, f.category, f.bounds)
}

// MismatchError is returned by Filter.Check when an observed count falls
// outside the expected range.
type MismatchError struct {
	Description string
	Expected    Range
	Observed    int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("expected count between %d and %d inclusive (from %q), got %d",
		e.Expected.Min, e.Expected.Max, strings.TrimSpace(e.Description), e.Observed)
}
