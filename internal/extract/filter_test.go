package extract

import "testing"

func TestValueFilterAccept(t *testing.T) {
	f := NewValueFilter()

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"empty string", "", false},
		{"whitespace only", "   ", false},
		{"false is uninformative", false, false},
		{"true is informative", true, true},
		{"single letter", "a", false},
		{"single digit is numeric", "5", true},
		{"number", float64(42), true},
		{"real value", "Almería", true},
		{"real value containing deny fragment", "Granada", true},
		{"placeholder exact", "ninguno", false},
		{"placeholder uppercase", "NINGUNO", false},
		{"placeholder with punctuation", "No mencionado.", false},
		{"placeholder embedded", "dato no disponible por ahora", false},
		{"n/a", "N/A", false},
		{"pendiente", "Pendiente", false},
		{"english placeholder", "Not specified", false},
		{"accented value", "Málaga", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Accept(tt.value); got != tt.want {
				t.Errorf("Accept(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
