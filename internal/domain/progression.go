package domain

// LevelThreshold is the number of points whose crossing grants one level and one star.
const LevelThreshold = 50

// Award is the outcome of adding points to a user's total.
type Award struct {
	NewPoints    int
	LevelsGained int
	StarsGained  int
}

// AwardPoints applies delta to currentPoints using LevelThreshold.
func AwardPoints(currentPoints, delta int) Award {
	return AwardWithThreshold(currentPoints, delta, LevelThreshold)
}

// AwardWithThreshold grants one level and one star for every full multiple of
// threshold crossed between currentPoints and currentPoints+delta.
func AwardWithThreshold(currentPoints, delta, threshold int) Award {
	if threshold <= 0 {
		threshold = LevelThreshold
	}
	next := currentPoints + delta
	levels := next/threshold - currentPoints/threshold
	if levels < 0 {
		levels = 0
	}
	return Award{
		NewPoints:    next,
		LevelsGained: levels,
		StarsGained:  levels,
	}
}
