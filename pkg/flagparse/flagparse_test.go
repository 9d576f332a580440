package flagparse

import (
	"reflect"
	"testing"
)

func TestParseExcludeList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Empty string", "", nil},
		{"Single item", "*.tmp", []string{"*.tmp"}},
		{"Multiple items", "*.tmp,*.log,node_modules", []string{"*.tmp", "*.log", "node_modules"}},
		{"Whitespace trimmed", " *.tmp , *.log ", []string{"*.tmp", "*.log"}},
		{"Empty items dropped", "*.tmp,,*.log,", []string{"*.tmp", "*.log"}},
		{"Quoted item with comma", `"a,b",c`, []string{"a,b", "c"}},
		{"Single quotes", `'my dir',other`, []string{"my dir", "other"}},
		{"Other quote kind is literal", `"it's",x`, []string{"it's", "x"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseExcludeList(tc.input)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("ParseExcludeList(%q) = %#v, want %#v", tc.input, got, tc.expected)
			}
		})
	}
}
