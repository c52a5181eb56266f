package domain

import (
	"strings"
	"testing"
	"time"
)

func TestNewImageID(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id, err := NewImageID()
	if err != nil {
		t.Fatalf("NewImageID() error = %v", err)
	}
	if !strings.HasPrefix(id, ImageIDPrefix) {
		t.Errorf("id %q missing prefix", id)
	}
	if len(id) != len(ImageIDPrefix)+26 {
		t.Errorf("len(id) = %d", len(id))
	}
	if id != strings.ToLower(id) {
		t.Errorf("id %q is not lowercase", id)
	}
	if !ValidImageID(id) {
		t.Errorf("ValidImageID(%q) = false", id)
	}
	ts, ok := IDTime(id)
	if !ok || ts.Before(before) {
		t.Errorf("IDTime() = %v, %v", ts, ok)
	}
}

func TestNewRunID_Sortable(t *testing.T) {
	prev := ""
	for i := 0; i < 50; i++ {
		id, err := NewRunID()
		if err != nil {
			t.Fatalf("NewRunID() error = %v", err)
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestValidImageID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"img-01hzy3k7q8r9s0t1v2w3x4y5z6", true},
		{"run-01hzy3k7q8r9s0t1v2w3x4y5z6", false},
		{"img-", false},
		{"img-not-a-ulid", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidImageID(tt.id); got != tt.want {
			t.Errorf("ValidImageID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
