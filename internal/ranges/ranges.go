// Package ranges implements the read-range arithmetic behind discussion
// readers. A reader's read items are stored as sorted, non-overlapping,
// inclusive sequence-id ranges serialized as "1-3,5-5,8-10".
package ranges

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed ranges")

// Range is an inclusive span of sequence ids.
type Range struct {
	First int
	Last  int
}

// Ranges is always kept normalized: sorted, merged, no adjacent spans.
type Ranges []Range

// Parse reads a comma separated list of "a-b" or "a" parts.
func Parse(value string) (Ranges, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Ranges{}, nil
	}
	parts := strings.Split(value, ",")
	out := make(Ranges, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty part", ErrMalformed)
		}
		first, last, found := strings.Cut(part, "-")
		if !found {
			last = first
		}
		a, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, part)
		}
		b, err := strconv.Atoi(strings.TrimSpace(last))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, part)
		}
		if a < 1 || a > b {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, part)
		}
		out = append(out, Range{First: a, Last: b})
	}
	return normalize(out), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(value string) Ranges {
	r, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return r
}

// Upto returns the single range 1-n, or nothing when n < 1.
func Upto(n int) Ranges {
	if n < 1 {
		return Ranges{}
	}
	return Ranges{{First: 1, Last: n}}
}

// Merge returns the union of a and b.
func Merge(a, b Ranges) Ranges {
	all := make(Ranges, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return normalize(all)
}

// Clamp drops everything outside [lo, hi].
func Clamp(r Ranges, lo, hi int) Ranges {
	out := make(Ranges, 0, len(r))
	if hi < lo {
		return out
	}
	for _, item := range r {
		if item.Last < lo || item.First > hi {
			continue
		}
		if item.First < lo {
			item.First = lo
		}
		if item.Last > hi {
			item.Last = hi
		}
		out = append(out, item)
	}
	return normalize(out)
}

// Count is the number of sequence ids covered.
func (r Ranges) Count() int {
	total := 0
	for _, item := range r {
		total += item.Last - item.First + 1
	}
	return total
}

// Contains reports whether id is covered.
func (r Ranges) Contains(id int) bool {
	i := sort.Search(len(r), func(i int) bool { return r[i].Last >= id })
	return i < len(r) && r[i].First <= id
}

func (r Ranges) String() string {
	parts := make([]string, 0, len(r))
	for _, item := range r {
		parts = append(parts, strconv.Itoa(item.First)+"-"+strconv.Itoa(item.Last))
	}
	return strings.Join(parts, ",")
}

func normalize(in Ranges) Ranges {
	if len(in) == 0 {
		return Ranges{}
	}
	sorted := make(Ranges, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].First == sorted[j].First {
			return sorted[i].Last < sorted[j].Last
		}
		return sorted[i].First < sorted[j].First
	})

	out := Ranges{sorted[0]}
	for _, item := range sorted[1:] {
		last := &out[len(out)-1]
		if item.First-1 <= last.Last {
			if item.Last > last.Last {
				last.Last = item.Last
			}
			continue
		}
		out = append(out, item)
	}
	return out
}
