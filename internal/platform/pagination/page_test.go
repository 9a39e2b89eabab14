package pagination

import "testing"

func TestClampPageSize(t *testing.T) {
	cfg := PageSizeConfig{Default: 20, Max: 100}
	tests := []struct {
		name  string
		value int
		want  int
	}{
		{name: "zero uses default", value: 0, want: 20},
		{name: "negative uses default", value: -5, want: 20},
		{name: "within range", value: 42, want: 42},
		{name: "above max", value: 500, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampPageSize(tt.value, cfg); got != tt.want {
				t.Fatalf("ClampPageSize(%d) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestClampPageSizeFallsBackToOne(t *testing.T) {
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("ClampPageSize = %d, want 1", got)
	}
}
