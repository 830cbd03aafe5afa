package kpath

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{`a\b\c`, "a/b/c"},
		{`C:\Windows\x`, "Windows/x"},
		{`\\srv\share\x`, "x"},
		{"/etc/passwd", "etc/passwd"},
		{"a/b/c", "a/b/c"},
	}
	for _, c := range cases {
		if got := Canonicalize(c.in); got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidateRejectsUnsafe(t *testing.T) {
	bad := []string{
		"../x",
		"a/../../x",
		"a\x00b",
		"a\x01b",
		"/etc/passwd",
		`C:\Windows\x`,
		`\\srv\share\x`,
		"a/./b",
	}
	for _, p := range bad {
		if err := Validate(p); err == nil {
			t.Errorf("Validate(%q): want error, got nil", p)
		}
	}
}

func TestValidateAcceptsSafe(t *testing.T) {
	good := []string{"a.txt", "b/c.txt", "d/e/f.bin"}
	for _, p := range good {
		if err := Validate(p); err != nil {
			t.Errorf("Validate(%q): unexpected error %v", p, err)
		}
	}
}

func TestJoinStripComponents(t *testing.T) {
	cases := []struct {
		archivePath string
		strip       int
		want        string
	}{
		{"a/b/c.txt", 0, "/out/a/b/c.txt"},
		{"a/b/c.txt", 1, "/out/b/c.txt"},
		{"a/b/c.txt", 2, "/out/c.txt"},
		{"a/b/c.txt", 5, "/out/c.txt"},
	}
	for _, c := range cases {
		if got := Join("/out", c.archivePath, c.strip); got != c.want {
			t.Errorf("Join(%q, %d) = %q, want %q", c.archivePath, c.strip, got, c.want)
		}
	}
}
