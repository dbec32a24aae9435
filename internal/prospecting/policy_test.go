package prospecting

import (
	"testing"
	"time"
)

func TestBusinessHoursOpen(t *testing.T) {
	hours, err := NewBusinessHours(8, 20, time.Sunday, "UTC")
	if err != nil {
		t.Fatalf("new business hours: %v", err)
	}
	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"weekday inside window", time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC), true},
		{"window start is inclusive", time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC), true},
		{"window end is inclusive", time.Date(2025, 3, 5, 20, 59, 0, 0, time.UTC), true},
		{"before window", time.Date(2025, 3, 5, 7, 59, 0, 0, time.UTC), false},
		{"after window", time.Date(2025, 3, 5, 21, 0, 0, 0, time.UTC), false},
		{"rest day inside window", time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := hours.Open(tc.ts); got != tc.want {
				t.Fatalf("Open(%s)=%v want %v", tc.ts, got, tc.want)
			}
		})
	}
}

func TestBusinessHoursHonorsTimezone(t *testing.T) {
	hours, err := NewBusinessHours(8, 20, time.Sunday, "America/Sao_Paulo")
	if err != nil {
		t.Fatalf("new business hours: %v", err)
	}
	// 22:00 UTC is 19:00 in São Paulo (UTC-3): still open.
	if !hours.Open(time.Date(2025, 3, 5, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 19:00 local to be open")
	}
	// 00:30 UTC Monday is 21:30 Sunday local: rest day and after hours.
	if hours.Open(time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected Sunday evening local to be closed")
	}
}

func TestBusinessHoursValidation(t *testing.T) {
	if _, err := NewBusinessHours(20, 8, time.Sunday, "UTC"); err == nil {
		t.Fatalf("expected error for inverted window")
	}
	if _, err := NewBusinessHours(8, 20, time.Sunday, "Mars/Phobos"); err == nil {
		t.Fatalf("expected error for invalid timezone")
	}
	if _, err := NewBusinessHours(-1, 20, time.Sunday, "UTC"); err == nil {
		t.Fatalf("expected error for negative start hour")
	}
}

func TestBusinessHoursUntilNextDay(t *testing.T) {
	hours, err := NewBusinessHours(8, 20, time.Sunday, "UTC")
	if err != nil {
		t.Fatalf("new business hours: %v", err)
	}
	now := time.Date(2025, 3, 5, 23, 0, 0, 0, time.UTC)
	if got := hours.UntilNextDay(now); got != time.Hour {
		t.Fatalf("UntilNextDay=%s want 1h", got)
	}
	start := hours.StartOfDay(now)
	if start.Hour() != 0 || start.Day() != 5 {
		t.Fatalf("StartOfDay=%s want local midnight of the same day", start)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"+55 (31) 99999-0000", "5531999990000"},
		{"5531999990000", "5531999990000"},
		{"abc", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizePhone(tc.raw); got != tc.want {
			t.Fatalf("NormalizePhone(%q)=%q want %q", tc.raw, got, tc.want)
		}
	}
}
