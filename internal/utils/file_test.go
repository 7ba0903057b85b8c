package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateOutputFilename(t *testing.T) {
	cases := []struct {
		input, dir, prefix, suffix, format string
		want                               string
	}{
		{"/in/photo.jpg", "/out", "", "_crop", "png", "/out/photo_crop.png"},
		{"scan.webp", "/out", "q_", "", "", "/out/q_scan.webp"},
		{"noext", "/out", "", "-1", "", "/out/noext-1.jpg"},
		{"..jpg", "/out", "", "", "jpg", "/out/photo.jpg"},
		{"a:b.png", "/out", "", "", "png", "/out/a_b.png"},
	}
	for _, tc := range cases {
		got := GenerateOutputFilename(tc.input, filepath.FromSlash(tc.dir), tc.prefix, tc.suffix, tc.format)
		if want := filepath.FromSlash(tc.want); got != want {
			t.Errorf("GenerateOutputFilename(%q) = %q, want %q", tc.input, got, want)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.JPG":  true,
		"b.webp": true,
		"c.txt":  false,
		"noext":  false,
		"d.jpeg": true,
	} {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q) = %v", name, got)
		}
	}
}

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatal(err)
	}
	if FileExists(dir) {
		t.Error("directory reported as file")
	}
	f := filepath.Join(dir, "x.jpg")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(f) {
		t.Error("file not found")
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for size, want := range cases {
		if got := FormatFileSize(size); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", size, got, want)
		}
	}
}
