package strutil

import "testing"

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{"identical", "acme corporation", "acme corporation", 1.0, 1.0},
		{"empty both", "", "", 1.0, 1.0},
		{"empty one", "acme", "", 0.0, 0.0},
		{"disjoint", "abc", "xyz", 0.0, 0.0},
		{"close", "Acme Corp", "Acme Corp.", 0.9, 1.0},
		{"partial", "cloud hosting monthly", "cloud hosting annual", 0.6, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ratio(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Ratio(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestFoldRatio(t *testing.T) {
	if got := FoldRatio("ACME Corporation", "acme corporation"); got != 1.0 {
		t.Errorf("FoldRatio() = %v, want 1.0", got)
	}
}

func TestRatio_Symmetric(t *testing.T) {
	a, b := "implementation services", "implementation svc"
	if Ratio(a, b) != Ratio(b, a) {
		t.Error("Ratio should be symmetric")
	}
}
