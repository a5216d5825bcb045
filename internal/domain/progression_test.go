package domain

import "testing"

func TestAwardPoints(t *testing.T) {
	cases := []struct {
		points, delta int
		want          Award
	}{
		{40, 10, Award{NewPoints: 50, LevelsGained: 1, StarsGained: 1}},
		{41, 1, Award{NewPoints: 42}},
		{98, 3, Award{NewPoints: 101, LevelsGained: 1, StarsGained: 1}},
		{0, 0, Award{}},
		{49, 1, Award{NewPoints: 50, LevelsGained: 1, StarsGained: 1}},
		{0, 120, Award{NewPoints: 120, LevelsGained: 2, StarsGained: 2}},
		{50, 0, Award{NewPoints: 50}},
	}
	for _, tc := range cases {
		got := AwardPoints(tc.points, tc.delta)
		if got != tc.want {
			t.Fatalf("AwardPoints(%d, %d) = %+v, want %+v", tc.points, tc.delta, got, tc.want)
		}
	}
}

func TestAwardWithThresholdFallsBackOnInvalidThreshold(t *testing.T) {
	got := AwardWithThreshold(40, 10, 0)
	if got.LevelsGained != 1 {
		t.Fatalf("expected default threshold to apply, got %+v", got)
	}

	got = AwardWithThreshold(8, 4, 10)
	if got.NewPoints != 12 || got.LevelsGained != 1 || got.StarsGained != 1 {
		t.Fatalf("unexpected award with threshold 10: %+v", got)
	}
}

func TestAwardPointsIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := AwardPoints(98, 3); got.NewPoints != 101 || got.LevelsGained != 1 {
			t.Fatalf("run %d: unexpected award %+v", i, got)
		}
	}
}
