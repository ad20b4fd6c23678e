package duration

import (
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestFormat(t *testing.T) {
	tests := []struct {
		in      *float64
		short   string
		verbose string
	}{
		{nil, "N/A", "N/A"},
		{ptr(0), "N/A", "N/A"},
		{ptr(math.NaN()), "N/A", "N/A"},
		{ptr(65.9), "1:05", "1 mins 5 secs"},
		{ptr(600), "10:00", "10 mins 0 secs"},
		{ptr(9), "0:09", "0 mins 9 secs"},
	}
	for _, test := range tests {
		if got := Format(test.in); got != test.short {
			t.Fatalf("Format: expected %s got %s", test.short, got)
		}
		if got := FormatVerbose(test.in); got != test.verbose {
			t.Fatalf("FormatVerbose: expected %s got %s", test.verbose, got)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(math.NaN()); got != "0:00" {
		t.Fatalf("expected 0:00, got %s", got)
	}
	if got := FormatClock(125); got != "2:05" {
		t.Fatalf("expected 2:05, got %s", got)
	}
}
