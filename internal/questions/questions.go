package questions

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"gorm.io/gorm"

	"github.com/DoyleJ11/quiz-battle-backend/internal/engine"
)

var ErrNoQuestions = errors.New("no questions for requested difficulty/category")

// Bank supplies question sets for a match. Implementations must return
// exactly count questions or ErrNoQuestions.
type Bank interface {
	GetQuestions(ctx context.Context, difficulty, category string, count int) ([]engine.Question, error)
}

// Record is the persisted form of a question. Answers are stored as a
// JSON-serialized array; the engine sees plain slices.
type Record struct {
	ID           string `gorm:"primaryKey;column:id"`
	Text         string `gorm:"column:text"`
	Answers      string `gorm:"column:answers"` // JSON array
	CorrectIndex int    `gorm:"column:correct_index"`
	Difficulty   string `gorm:"column:difficulty;index:idx_questions_bucket"`
	Category     string `gorm:"column:category;index:idx_questions_bucket"`
}

func (Record) TableName() string { return "questions" }

// GormBank reads the question bank from the database.
type GormBank struct {
	db *gorm.DB
}

func NewGormBank(db *gorm.DB) (*GormBank, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &GormBank{db: db}, nil
}

func (b *GormBank) GetQuestions(ctx context.Context, difficulty, category string, count int) ([]engine.Question, error) {
	var records []Record
	err := b.db.WithContext(ctx).
		Where("difficulty = ? AND category = ?", difficulty, category).
		Order("RANDOM()").
		Limit(count).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) < count {
		return nil, ErrNoQuestions
	}

	qs := make([]engine.Question, 0, len(records))
	for _, r := range records {
		q, err := r.toQuestion()
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

// MemoryBank holds questions in process. Used by tests and by dev runs
// without a database.
type MemoryBank struct {
	mu        sync.RWMutex
	questions []engine.Question
}

func NewMemoryBank(qs ...engine.Question) *MemoryBank {
	return &MemoryBank{questions: qs}
}

func (b *MemoryBank) Add(qs ...engine.Question) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.questions = append(b.questions, qs...)
}

func (b *MemoryBank) GetQuestions(_ context.Context, difficulty, category string, count int) ([]engine.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var pool []engine.Question
	for _, q := range b.questions {
		if q.Difficulty == difficulty && q.Category == category {
			pool = append(pool, q)
		}
	}
	if len(pool) < count {
		return nil, ErrNoQuestions
	}

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:count], nil
}
