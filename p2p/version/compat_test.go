package version

import "testing"

func TestCompatibleMainnetBoundary(t *testing.T) {
	cases := []struct {
		remote string
		want   bool
	}{
		{"1.3.1", true},
		{"1.3.2", true},
		{"1.4.0", true},
		{"2.0.0", true},
		{"1.3.0", false},
		{"1.2.9", false},
		{"0.9.9", false},
	}
	for _, c := range cases {
		if got := Compatible(c.remote, MinimumMainnet); got != c.want {
			t.Errorf("Compatible(%q, mainnet) = %v, want %v", c.remote, got, c.want)
		}
	}
}

func TestCompatibleAcceptsNonTriplet(t *testing.T) {
	if !Compatible("dev-build", MinimumMainnet) {
		t.Fatalf("expected non-triplet version string to be accepted")
	}
}
