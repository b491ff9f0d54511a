package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/mistakeknot/hydra/internal/core"
)

func TestParseSince(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"1699990000", time.Unix(1699990000, 0)},
		{"10 minutes", now.Add(-10 * time.Minute)},
		{"10m", now.Add(-10 * time.Minute)},
		{"1h30m", now.Add(-90 * time.Minute)},
		{"2 days ago", now.Add(-48 * time.Hour)},
		{"1 week", now.Add(-7 * 24 * time.Hour)},
		{"1.5 hours", now.Add(-90 * time.Minute)},
		{"30 Seconds", now.Add(-30 * time.Second)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)},
		{"2024-03-01 12:30", time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)},
		{"2024-03-01T12:30:15", time.Date(2024, 3, 1, 12, 30, 15, 0, time.Local)},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.in, now)
		if err != nil {
			t.Errorf("ParseSince(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSinceRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "yesterday", "10 fortnights", "10 minutes and 5", "2024-13-01", "ago"} {
		_, err := ParseSince(in, time.Now())
		var verr *core.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("ParseSince(%q) = %v, want ValidationError", in, err)
		}
	}
}

func TestFormatFiles(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"M\ta.go", "M a.go"},
		{"M\ta.go;A\tb.go", "M a.go; A b.go"},
		{"R100\told.go\tnew.go;D\tgone.go", "R100 old.go -> new.go; D gone.go"},
		{"C75\ta\tb", "C75 a -> b"},
		{" ; M\tx ;", "M x"},
		{"T", "T"},
	}
	for _, tt := range tests {
		if got := FormatFiles(tt.in); got != tt.want {
			t.Errorf("FormatFiles(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
