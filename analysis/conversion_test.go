package analysis

import (
	"math"
	"testing"
)

func TestConversion(t *testing.T) {
	tests := []struct {
		name                   string
		monomer, standard      float64
		t0Monomer, t0Standard  float64
		want                   float64
		wantOK                 bool
	}{
		{"half converted", 1.0, 2.0, 1.0, 1.0, 50, true},
		{"no conversion", 2.0, 1.0, 2.0, 1.0, 0, true},
		{"near-full conversion", 0.001, 10.0, 2.0, 1.0, 99.995, true},
		{"negative clamps to zero", 3.0, 1.0, 2.0, 1.0, 0, true},
		{"zero monomer integral", 0, 1.0, 2.0, 1.0, 0, false},
		{"zero standard integral", 1.0, 0, 2.0, 1.0, 0, false},
		{"zero t0 monomer", 1.0, 1.0, 0, 1.0, 0, false},
		{"zero t0 standard", 1.0, 1.0, 2.0, 0, 0, false},
		{"negative t0 ratio", 1.0, 1.0, -2.0, 1.0, 0, false},
		{"nan integral", math.NaN(), 1.0, 2.0, 1.0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Conversion(tt.monomer, tt.standard, tt.t0Monomer, tt.t0Standard)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("conversion = %g, want %g", got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("conversion %g outside [0,100]", got)
			}
		})
	}
}
