package wx

import (
	"strings"
	"testing"
	"time"
)

const sampleASOS = `#DEBUG: network WI_ASOS
#DEBUG: stations MSN,UES
station,valid,vsby,wdir,sped,gust,tmpf,skyc1,skyl1,skyc2,skyl2,skyc3,skyl3,skyc4,skyl4
MSN,2026-03-14 13:53,10.00,270,9.2,M,41.0,FEW,4000,M,M,M,M,M,M
MSN,2026-03-14 14:53,0.75,280,11.5,18.4,40.0,OVC,300,M,M,M,M,M,M
UES,2026-03-14 14:45,M,M,M,M,M,CLR,M,M,M,M,M,M,M
`

func TestParseASOS(t *testing.T) {
	rows, err := ParseASOS(strings.NewReader(sampleASOS))
	if err != nil {
		t.Fatalf("ParseASOS failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (one per station)", len(rows))
	}

	msn := rows[0]
	if msn.Station != "MSN" {
		t.Fatalf("first row station = %q, want MSN (first-seen order)", msn.Station)
	}
	wantValid := time.Date(2026, 3, 14, 14, 53, 0, 0, time.UTC)
	if !msn.Valid.Equal(wantValid) {
		t.Errorf("MSN valid = %v, want newest row %v", msn.Valid, wantValid)
	}
	if msn.Vsby == nil || *msn.Vsby != 0.75 {
		t.Errorf("MSN vsby = %v, want 0.75", msn.Vsby)
	}
	if msn.Gust == nil || *msn.Gust != 18.4 {
		t.Errorf("MSN gust = %v, want 18.4", msn.Gust)
	}
	if msn.SkyC[0] != "OVC" || msn.SkyL[0] == nil || *msn.SkyL[0] != 300 {
		t.Errorf("MSN sky layer 1 = %q/%v, want OVC/300", msn.SkyC[0], msn.SkyL[0])
	}

	ues := rows[1]
	if ues.Vsby != nil {
		t.Errorf("UES vsby = %v, want nil for M", ues.Vsby)
	}
	if ues.SkyC[0] != "CLR" {
		t.Errorf("UES sky cover = %q, want CLR", ues.SkyC[0])
	}
	if ues.SkyL[0] != nil {
		t.Errorf("UES sky level = %v, want nil for M", ues.SkyL[0])
	}
}

func TestParseASOSBadRows(t *testing.T) {
	csv := "station,valid,vsby\n" +
		"MSN,not-a-timestamp,10.00\n" +
		"UES,2026-03-14 14:00,5.00\n"

	rows, err := ParseASOS(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseASOS failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Station != "UES" {
		t.Errorf("got %+v, want only the UES row (bad timestamps dropped per row)", rows)
	}
}

func TestParseASOSOversizedLine(t *testing.T) {
	// A line past the scanner buffer limit must fail the batch, not
	// silently truncate it into a valid partial result.
	csv := "station,valid,vsby\n" +
		"MSN,2026-03-14 14:00," + strings.Repeat("9", 2*1024*1024) + "\n"

	if _, err := ParseASOS(strings.NewReader(csv)); err == nil {
		t.Error("expected error for oversized line")
	}
}

func TestParseASOSMissingStationColumn(t *testing.T) {
	if _, err := ParseASOS(strings.NewReader("valid,vsby\n2026-03-14 14:00,5.00\n")); err == nil {
		t.Error("expected error for response without station column")
	}
}

func TestASOSFloat(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"", nil},
		{"M", nil},
		{"T", nil},
		{"junk", nil},
		{"10.00", f64(10)},
		{"0.75", f64(0.75)},
	}
	for _, tt := range tests {
		got := asosFloat(tt.in)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("asosFloat(%q) = %v, want nil", tt.in, *got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("asosFloat(%q) = %v, want %v", tt.in, got, *tt.want)
		}
	}
}

func TestASOSStationID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"KMSN", "MSN"},
		{"KUES", "UES"},
		{"MSN", "MSN"},   // already short
		{"PANC", "PANC"}, // not a K prefix
		{"K", "K"},
	}
	for _, tt := range tests {
		if got := ASOSStationID(tt.in); got != tt.want {
			t.Errorf("ASOSStationID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
