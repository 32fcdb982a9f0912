package util

import (
	"errors"
	"testing"
)

func TestOwnerKey(t *testing.T) {
	id := "user-12345"
	got := OwnerKey(id)
	if got != OwnerKey(id) {
		t.Fatalf("expected stable hash, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 32 {
		t.Fatalf("expected 32 hex characters, got %d", len(got))
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got, err := SanitizeFileName(" my clip/final.mp4 "); err != nil || got != "my_clip_final.mp4" {
		t.Fatalf("unexpected sanitize result %q, %v", got, err)
	}
	if _, err := SanitizeFileName("../etc/passwd"); !errors.Is(err, ErrInvalidFileName) {
		t.Fatalf("expected ErrInvalidFileName, got %v", err)
	}
}

func TestCheckVideoName(t *testing.T) {
	cases := map[string]error{
		"clip.mp4":  nil,
		"CLIP.MOV":  nil,
		"clip.mkv":  nil,
		"clip.webm": nil,
		"clip.avi":  ErrUnsupportedType,
		"":          ErrInvalidFileName,
	}
	for name, want := range cases {
		if err := CheckVideoName(name); !errors.Is(err, want) {
			t.Fatalf("CheckVideoName(%q) = %v, want %v", name, err, want)
		}
	}
}
