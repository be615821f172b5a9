package geo

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Côte d'Ivoire", want: "COTE D IVOIRE"},
		{in: "  Trinidad & Tobago ", want: "TRINIDAD AND TOBAGO"},
		{in: "São Tomé and Príncipe", want: "SAO TOME AND PRINCIPE"},
		{in: "U.S.A.", want: "U S A"},
		{in: "ema", want: "EMA"},
		{in: "Россия", want: "РОССИЯ"},
		{in: "---", want: ""},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := Canonicalize(tt.in); got != tt.want {
			t.Fatalf("Canonicalize(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}
