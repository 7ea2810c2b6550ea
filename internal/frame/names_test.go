package frame

import "testing"

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Miles_per_Gallon", "miles_per_gallon"},
		{"  Weight (lbs) ", "weight_lbs"},
		{"Café Größe", "cafe_groe"},
		{"a - b / c", "a_b_c"},
		{"___", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestNormalizedNamesInjective verifies collisions are suffixed.
func TestNormalizedNamesInjective(t *testing.T) {
	t.Parallel()

	got := NormalizedNames([]string{"A b", "a-b", "%%"})
	want := map[string]string{"A b": "a_b", "a-b": "a_b_2", "%%": "col_3"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("NormalizedNames()[%q] = %q, want %q", k, got[k], v)
		}
	}
}
