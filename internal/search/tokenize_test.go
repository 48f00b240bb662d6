package search

import (
	"reflect"
	"testing"
)

func Test_Tokenize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		query string
		want  []string
	}{
		{"Where did I put the tax documents", []string{"put", "tax", "documents"}},
		{"Project Alpha", []string{"project", "alpha"}},
		{"MIXED Case TOKENS", []string{"mixed", "case", "tokens"}},
		{"a I x", []string{}},                // all dropped: stop word + length 1
		{"what is the where", []string{}},    // entirely stop words
		{"  spaced   out  words ", []string{"spaced", "out", "words"}},
		{"", []string{}},
	}
	for _, tc := range cases {
		got := Tokenize(tc.query)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
