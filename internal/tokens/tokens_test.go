package tokens

import "testing"

func TestEstimate(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Fatalf("empty: want=0 got=%d", got)
	}
	if got := Estimate("ab"); got != 1 {
		t.Fatalf("short text floors at 1: got=%d", got)
	}
	if got := Estimate("abcdefghij"); got != 3 {
		t.Fatalf("len/3: want=3 got=%d", got)
	}
}

func TestEstimateAll(t *testing.T) {
	if got := EstimateAll("abcdef", "abcdef"); got != 4 {
		t.Fatalf("sum: want=4 got=%d", got)
	}
}
