package hoard

import "testing"

func TestParseConsistency(t *testing.T) {
	tests := []struct {
		in      string
		want    Consistency
		wantErr bool
	}{
		{"one", One, false},
		{"quorum", Quorum, false},
		{"all", All, false},
		{"", 0, true},
		{"ONE", 0, true},
		{"majority", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConsistency(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseConsistency(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseConsistency(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConsistency_String_RoundTrip(t *testing.T) {
	for _, c := range []Consistency{One, Quorum, All} {
		got, err := ParseConsistency(c.String())
		if err != nil || got != c {
			t.Errorf("ParseConsistency(%v.String()) = %v, %v", c, got, err)
		}
	}
}

func TestConsistency_Replicas(t *testing.T) {
	tests := []struct {
		level Consistency
		r     int
		want  int
	}{
		{One, 3, 1},
		{One, 1, 1},
		{Quorum, 3, 2},
		{Quorum, 4, 3},
		{Quorum, 1, 1},
		{All, 3, 3},
	}
	for _, tt := range tests {
		if got := tt.level.replicas(tt.r); got != tt.want {
			t.Errorf("%v.replicas(%d) = %d, want %d", tt.level, tt.r, got, tt.want)
		}
	}
}

func TestConsistency_Required(t *testing.T) {
	tests := []struct {
		level     Consistency
		attempted int
		want      int
	}{
		{One, 3, 1},
		{Quorum, 3, 2},
		{Quorum, 2, 2},
		{All, 3, 3},
		{All, 1, 1},
	}
	for _, tt := range tests {
		if got := tt.level.required(tt.attempted); got != tt.want {
			t.Errorf("%v.required(%d) = %d, want %d", tt.level, tt.attempted, got, tt.want)
		}
	}
}
