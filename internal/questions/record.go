package questions

import (
	"encoding/json"

	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
)

func (r Record) toQuestion() (engine.Question, error) {
	var answers []string
	if err := json.Unmarshal([]byte(r.Answers), &answers); err != nil {
		return engine.Question{}, err
	}
	return engine.Question{
		ID:           r.ID,
		Text:         r.Text,
		Answers:      answers,
		CorrectIndex: r.CorrectIndex,
		Difficulty:   r.Difficulty,
		Category:     r.Category,
	}, nil
}

// FromQuestion builds the persisted form, used by seeders and tests.
func FromQuestion(q engine.Question) Record {
	answers, _ := json.Marshal(q.Answers)
	return Record{
		ID:           q.ID,
		Text:         q.Text,
		Answers:      string(answers),
		CorrectIndex: q.CorrectIndex,
		Difficulty:   q.Difficulty,
		Category:     q.Category,
	}
}
