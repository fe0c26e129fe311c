package math

import "testing"

func TestMulBps(t *testing.T) {
	cases := []struct {
		name    string
		amount  int64
		rateBps int64
		want    int64
	}{
		{"five percent", 100_000_000, 500, 5_000_000},
		{"floor rounding", 999, 500, 49},
		{"one bps", 1_000_000, 1, 100},
		{"sub unit floors to zero", 19, 500, 0},
		{"large coverage no overflow", 9_000_000_000_000_000_000, 9_999, 8_999_100_000_000_000_000},
		{"full rate is identity", 9_000_000_000_000_000_000, 10_000, 9_000_000_000_000_000_000},
		{"zero rate", 100_000_000, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MulBps(tc.amount, tc.rateBps); got != tc.want {
				t.Errorf("MulBps(%d, %d) = %d, want %d", tc.amount, tc.rateBps, got, tc.want)
			}
		})
	}
}

func TestValidBpsRate(t *testing.T) {
	for _, rate := range []int64{0, 1, 500, 9_999, 10_000} {
		if !ValidBpsRate(rate) {
			t.Errorf("ValidBpsRate(%d) = false, want true", rate)
		}
	}
	for _, rate := range []int64{-1, 10_001} {
		if ValidBpsRate(rate) {
			t.Errorf("ValidBpsRate(%d) = true, want false", rate)
		}
	}
}
