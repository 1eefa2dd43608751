package timeutil

import "testing"

func TestHHMMConversions(t *testing.T) {
	if got := HHMMToSeconds(1, 30); got != 5400 {
		t.Errorf("HHMMToSeconds(1, 30) = %d, want 5400", got)
	}
	if got := HHMMToMilliseconds(0, 2); got != 120000 {
		t.Errorf("HHMMToMilliseconds(0, 2) = %d, want 120000", got)
	}
	if got := SecondsToHHMM(3725); got != (HHMM{Hours: 1, Minutes: 2}) {
		t.Errorf("SecondsToHHMM(3725) = %+v", got)
	}
	if got := MillisecondsToHHMM(7_260_000); got != (HHMM{Hours: 2, Minutes: 1}) {
		t.Errorf("MillisecondsToHHMM(7260000) = %+v", got)
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"00:00:00", 0, false},
		{"01:02:03", 3723, false},
		{"00:25:00", 1500, false},
		{"1:2", 0, true},
		{"aa:00:00", 0, true},
		{"00:-1:00", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseInterval(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestBadgeString(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0s"},
		{42, "42s"},
		{60, "1m0s"},
		{307, "5m7s"},
		{3600, "1.00h0s"},
		{5430, "1.51h30s"},
	}

	for _, tt := range tests {
		if got := BadgeString(tt.seconds); got != tt.want {
			t.Errorf("BadgeString(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestSummaryString(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0 s"},
		{5, "5 s"},
		{65, "1 m 05 s"},
		{3601, "1 h 1 s"},
		{3661, "1 h 01 m 01 s"},
		{93784, "1 d 02 h 03 m 04 s"},
	}

	for _, tt := range tests {
		if got := SummaryString(tt.seconds); got != tt.want {
			t.Errorf("SummaryString(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestUnitsLimit(t *testing.T) {
	units := Units{Day: "days", Hour: "hrs", Minute: "min", Second: "sec"}
	if got := units.Limit(3900); got != "1 hrs 05 min" {
		t.Errorf("Limit(3900) = %q", got)
	}
	if got := DefaultUnits.Limit(600); got != "0 h 10 m" {
		t.Errorf("Limit(600) = %q", got)
	}
}

func TestMinutesSummaryString(t *testing.T) {
	tests := []struct {
		minutes float64
		want    string
	}{
		{0, "0 s"},
		{0.5, "30 s"},
		{1.25, "1 m 15 s"},
		{90.999, "1 h 30 m 59 s"},
		{-3, "0 s"},
	}
	for _, tt := range tests {
		if got := MinutesSummaryString(tt.minutes); got != tt.want {
			t.Errorf("MinutesSummaryString(%v) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}
