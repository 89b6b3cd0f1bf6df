package symbols

import "testing"

func TestToCSE(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABAN.N0000", "ABAN.N0000"},
		{"aban", "ABAN.N0000"},
		{"ABAN.N", "ABAN.N0000"},
		{"ABAN.N000", "ABAN.N0000"},
		{" jkh.x0000 ", "JKH.X0000"},
		{"JKH.", "JKH.N0000"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ToCSE(tt.in); got != tt.want {
			t.Errorf("ToCSE(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"data/cse/raw/JKH.N0000.json", "JKH.N0000"},
		{"sub/COMB.N0000.TXT", "COMB.N0000"},
		{"plain.json", "plain"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := FromFilename(tt.in); got != tt.want {
			t.Errorf("FromFilename(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("A/B C", ".json"); got != "A_B_C.json" {
		t.Errorf("Filename = %q", got)
	}
}
