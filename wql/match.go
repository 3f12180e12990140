package wql

import (
	"bytes"
	"math"
	"strconv"
)

// Tags is the view of a record's tags that Match evaluates against.
type Tags interface {
	Lookup(name TagName) ([]byte, bool)
}

// TagMap is a Tags backed by a map keyed by TagName.Key.
type TagMap map[string][]byte

// Lookup implements Tags.
func (m TagMap) Lookup(name TagName) ([]byte, bool) {
	v, ok := m[name.Key()]
	return v, ok
}

// Numeric reports whether s is a finite decimal number and returns its value.
// Plain tag values that are numeric take part in numeric ordering comparisons.
func Numeric(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Match evaluates q against tags. A comparison against a tag the record does not
// carry is false, so Not of it is true. q should have passed Validate.
func Match(q Query, tags Tags) bool {
	switch n := q.(type) {
	case And:
		for _, c := range n {
			if !Match(c, tags) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range n {
			if Match(c, tags) {
				return true
			}
		}
		return false
	case Not:
		return !Match(n.Query, tags)
	case Compare:
		stored, ok := tags.Lookup(n.Name)
		if !ok {
			return false
		}
		return compare(n.Op, stored, n.Value)
	case In:
		stored, ok := tags.Lookup(n.Name)
		if !ok {
			return false
		}
		for _, v := range n.Values {
			if bytes.Equal(stored, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compare(op Op, stored, literal []byte) bool {
	switch op {
	case Eq:
		return bytes.Equal(stored, literal)
	case Neq:
		return !bytes.Equal(stored, literal)
	case Like:
		return like(string(stored), string(literal))
	}

	var c int
	if lf, ok := Numeric(string(literal)); ok {
		sf, ok := Numeric(string(stored))
		if !ok {
			return false
		}
		switch {
		case sf < lf:
			c = -1
		case sf > lf:
			c = 1
		}
	} else {
		c = bytes.Compare(stored, literal)
	}

	switch op {
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	}
	return false
}

// like implements SQL LIKE: % matches any run of characters, _ exactly one.
// Matching is case-sensitive.
func like(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(sr) {
		switch {
		case pi < len(pr) && pr[pi] == '%':
			star, mark = pi, si
			pi++
		case pi < len(pr) && (pr[pi] == '_' || pr[pi] == sr[si]):
			si++
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pr) && pr[pi] == '%' {
		pi++
	}
	return pi == len(pr)
}
