package pathseed

import "testing"

func TestExcludeSetMatch(t *testing.T) {
	testCases := []struct {
		name     string
		patterns []string
		path     string
		expected bool
	}{
		{"Basename literal matches anywhere", []string{"node_modules"}, "a/b/node_modules", true},
		{"Basename literal does not match partial names", []string{"node_modules"}, "a/node_modules_bak", false},
		{"Full-path literal matches exactly", []string{"docs/config.json"}, "docs/config.json", true},
		{"Full-path literal does not match elsewhere", []string{"docs/config.json"}, "other/docs/config.json", false},
		{"Suffix pattern matches extension", []string{"*.log"}, "a/b/app.log", true},
		{"Suffix pattern ignores other extensions", []string{"*.log"}, "a/b/app.txt", false},
		{"Prefix pattern matches temp names", []string{"~*"}, "deep/~lockfile", true},
		{"Directory prefix matches the directory itself", []string{"build/"}, "build", true},
		{"Directory prefix matches contents", []string{"build/"}, "build/out/app", true},
		{"Directory prefix does not match siblings", []string{"build/"}, "build-tools/app", false},
		{"Dir wildcard matches contents", []string{"cache/*"}, "cache/entry", true},
		{"Glob pattern matches", []string{"img_[0-9].png"}, "img_4.png", true},
		{"Matching is case-insensitive", []string{"*.TMP"}, "a/file.tmp", true},
		{"Empty set matches nothing", nil, "anything", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := NewExcludeSet(tc.patterns)
			if got := set.Match(tc.path); got != tc.expected {
				t.Errorf("Match(%q) with %v = %v, want %v", tc.path, tc.patterns, got, tc.expected)
			}
		})
	}
}
