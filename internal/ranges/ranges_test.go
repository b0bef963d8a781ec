package ranges

import (
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		count int
	}{
		{name: "empty", input: "", want: "", count: 0},
		{name: "single id", input: "4", want: "4-4", count: 1},
		{name: "sorted", input: "1-3,5-7", want: "1-3,5-7", count: 6},
		{name: "unsorted overlapping", input: "5-9,1-6", want: "1-9", count: 9},
		{name: "adjacent coalesce", input: "1-2,3-4", want: "1-4", count: 4},
		{name: "spaces", input: " 1 - 2 , 8 ", want: "1-2,8-8", count: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.input, err)
			}
			if got.String() != tc.want {
				t.Fatalf("Parse(%q) = %q, want %q", tc.input, got.String(), tc.want)
			}
			if got.Count() != tc.count {
				t.Fatalf("Count() = %d, want %d", got.Count(), tc.count)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{"a-b", "3-1", "0-2", "1-2,,3", "1-2-3"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); !errors.Is(err, ErrMalformed) {
				t.Fatalf("Parse(%q) error = %v, want ErrMalformed", input, err)
			}
		})
	}
}

func TestMergeAndClamp(t *testing.T) {
	read := MustParse("1-3,8-9")
	merged := Merge(read, MustParse("4-5,20-30"))
	if merged.String() != "1-5,8-9,20-30" {
		t.Fatalf("Merge() = %q", merged.String())
	}

	clamped := Clamp(merged, 1, 22)
	if clamped.String() != "1-5,8-9,20-22" {
		t.Fatalf("Clamp() = %q", clamped.String())
	}
	if clamped.Count() != 10 {
		t.Fatalf("Count() = %d, want 10", clamped.Count())
	}
	if len(Clamp(merged, 5, 1)) != 0 {
		t.Fatal("expected empty clamp for inverted bounds")
	}
}

func TestMergeAtMaxInt(t *testing.T) {
	huge, err := Parse("1-" + strconv.Itoa(math.MaxInt) + ",2-3")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(huge) != 1 {
		t.Fatalf("Parse() = %q, want a single range", huge.String())
	}

	merged := Merge(Ranges{{First: 1, Last: math.MaxInt}}, Ranges{{First: 2, Last: 3}, {First: 40, Last: 50}})
	clamped := Clamp(merged, 1, 5)
	if clamped.String() != "1-5" {
		t.Fatalf("Clamp() = %q, want 1-5", clamped.String())
	}
	if clamped.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", clamped.Count())
	}
}

func TestClampNormalizesUnsortedInput(t *testing.T) {
	got := Clamp(Ranges{{First: 4, Last: 9}, {First: 1, Last: 5}}, 1, 6)
	if got.String() != "1-6" {
		t.Fatalf("Clamp() = %q, want 1-6", got.String())
	}
}

func TestContainsAndUpto(t *testing.T) {
	r := MustParse("2-4,9-9")
	for id, want := range map[int]bool{1: false, 2: true, 4: true, 5: false, 9: true, 10: false} {
		if got := r.Contains(id); got != want {
			t.Fatalf("Contains(%d) = %v, want %v", id, got, want)
		}
	}
	if Upto(0).Count() != 0 {
		t.Fatal("Upto(0) should be empty")
	}
	if Upto(7).String() != "1-7" {
		t.Fatalf("Upto(7) = %q", Upto(7).String())
	}
}
