package budget

import (
	"strings"
	"testing"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_TrimBlocks_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	blocks := []string{"aaa", "bbb", "ccc"}
	got := TrimBlocks(blocks, "\n\n", 100)
	if len(got) != 3 {
		t.Errorf("want 3 blocks, got %d", len(got))
	}
}

func Test_TrimBlocks_DropsLeastRelevantFirst(t *testing.T) {
	t.Parallel()
	blocks := []string{"best", "good", "weak"}
	// "best" + sep + "good" = 4+2+4 = 10 fits; adding "weak" does not.
	got := TrimBlocks(blocks, "--", 10)
	if len(got) != 2 {
		t.Fatalf("want 2 blocks after trim, got %d", len(got))
	}
	if got[0] != "best" || got[1] != "good" {
		t.Errorf("wrong blocks kept: %v", got)
	}
}

func Test_TrimBlocks_AlwaysKeepsBestMatch(t *testing.T) {
	t.Parallel()
	blocks := []string{strings.Repeat("x", 500)}
	got := TrimBlocks(blocks, "\n\n", 10)
	if len(got) != 1 {
		t.Errorf("best match must survive trimming, got %d blocks", len(got))
	}
}

func Test_TrimBlocks_Empty(t *testing.T) {
	t.Parallel()
	if got := TrimBlocks(nil, "\n\n", 10); len(got) != 0 {
		t.Errorf("want empty, got %v", got)
	}
}
