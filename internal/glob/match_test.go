package glob

import "testing"

func TestMatchShell(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"src/*", "src/a.py", true},
		{"src/*", "src/deep/x.py", true},
		{"src/*.py", "src/deep/x.py", true},
		{"*.md", "docs/readme.md", true},
		{"src/?", "src/a", true},
		{"src/?", "src/ab", false},
		{"a?b", "a/b", true},
		{"src/[ab].py", "src/b.py", true},
		{"src/[!ab].py", "src/c.py", true},
		{"src/[!ab].py", "src/a.py", false},
		{"README.md", "README.md", true},
		{"README.md", "readme.md", false},
		{"src/[x", "src/[x", true},
		{"", "", true},
		{"*", "", true},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.name); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"src/*", "src/a.py", true},
		{"src/*", "src/deep/x.py", false},
		{"src/**", "src/deep/x.py", true},
		{"src/**/*.py", "src/x.py", true},
		{"src/**/*.py", "src/a/b/x.py", true},
		{"src/**/*.py", "src/a/b/x.go", false},
		{"**/*.md", "README.md", true},
		{"src/*", "src/.env", false},
		{"src/.*", "src/.env", true},
		{"src/**", "src/.git/config", false},
		{"src/[a-c]*.go", "src/beta.go", true},
		{"src/[a-c]*.go", "src/delta.go", false},
	}
	for _, tt := range tests {
		got, err := MatchPath(tt.pattern, tt.path)
		if err != nil {
			t.Fatalf("MatchPath(%q, %q): %v", tt.pattern, tt.path, err)
		}
		if got != tt.want {
			t.Errorf("MatchPath(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestStaticPrefix(t *testing.T) {
	tests := map[string]string{
		"src/pkg/*.go":  "src/pkg",
		"src/**/x.go":   "src",
		"*.go":          "",
		"a/b/c.txt":     "a/b",
		"a/[bc]/d/*.go": "a",
	}
	for pattern, want := range tests {
		if got := StaticPrefix(pattern); got != want {
			t.Errorf("StaticPrefix(%q) = %q, want %q", pattern, got, want)
		}
	}
}

func TestIsPattern(t *testing.T) {
	if IsPattern("src/main.go") {
		t.Fatal("literal path reported as pattern")
	}
	for _, p := range []string{"src/*.go", "a?", "[ab]", "x/**"} {
		if !IsPattern(p) {
			t.Fatalf("%q should be a pattern", p)
		}
	}
}
