package engine

const (
	BasePoints    = 100
	MaxSpeedBonus = 50
	MaxDamage     = 25
	MinDamage     = 10
)

type Outcome struct {
	IsCorrect  bool
	Points     int
	Damage     int
	AnswerTime float64
}

// Resolve converts one answer submission into points and opponent
// damage. The speed bonus and damage decay linearly from their maxima
// at answerTime 0 down to zero bonus / MinDamage at the deadline.
// Incorrect answers score nothing and deal nothing.
func Resolve(q Question, answerIndex int, answerTime, timePerQuestion float64) Outcome {
	if answerTime < 0 {
		answerTime = 0
	}
	if answerTime > timePerQuestion {
		answerTime = timePerQuestion
	}

	out := Outcome{AnswerTime: answerTime}
	if answerIndex != q.CorrectIndex {
		return out
	}

	speed := 1 - answerTime/timePerQuestion
	out.IsCorrect = true
	out.Points = BasePoints + int(float64(MaxSpeedBonus)*speed)
	out.Damage = MinDamage + int(float64(MaxDamage-MinDamage)*speed)
	return out
}

type Reward struct {
	Points     int
	Experience int
	Coins      int
}

type Rewards struct {
	Winner Reward
	Loser  Reward
}

// RewardsFor scales fixed base rewards by performance. The loser still
// earns something so a close loss is not a wipeout.
func RewardsFor(winner, loser PlayerState) Rewards {
	return Rewards{
		Winner: Reward{
			Points:     winner.Score,
			Experience: 100 + 10*winner.CorrectAnswers,
			Coins:      50 + 5*winner.CorrectAnswers,
		},
		Loser: Reward{
			Points:     loser.Score,
			Experience: 40 + 10*loser.CorrectAnswers,
			Coins:      20 + 5*loser.CorrectAnswers,
		},
	}
}
