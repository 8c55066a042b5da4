package models

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Game represents a quiz game row
type Game struct {
	ID                   int            `db:"id" json:"id"`
	Pin                  string         `db:"pin" json:"pin"`
	Category             string         `db:"category" json:"category"`
	Status               string         `db:"status" json:"status"`
	CurrentQuestionIndex int            `db:"current_question_index" json:"current_question_index"`
	QuestionStartTime    sql.NullInt64  `db:"question_start_time" json:"question_start_time,omitempty"`
	ModeratorToken       string         `db:"moderator_token" json:"-"`
	ModeratorPassword    sql.NullString `db:"moderator_password" json:"-"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	FinishedAt           sql.NullTime   `db:"finished_at" json:"finished_at,omitempty"`
}

// Question represents one quiz question belonging to a game
type Question struct {
	ID           int            `db:"id" json:"id"`
	GameID       int            `db:"game_id" json:"game_id"`
	OrderIndex   int            `db:"order_index" json:"order_index"`
	Question     string         `db:"question" json:"question"`
	Options      pq.StringArray `db:"options" json:"options"`
	CorrectIndex int            `db:"correct_index" json:"correct_index"`
	TimeLimit    int            `db:"time_limit" json:"time_limit"`
}

// Player represents one participant in a game. PlayerID is a per-game
// ordinal assigned in join order; the pair (GameID, PlayerID) is the key.
type Player struct {
	GameID      int       `db:"game_id" json:"game_id"`
	PlayerID    int       `db:"player_id" json:"player_id"`
	Name        string    `db:"name" json:"name"`
	PlayerToken string    `db:"player_token" json:"-"`
	Score       int       `db:"score" json:"score"`
	Connected   bool      `db:"connected" json:"connected"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
}

// Answer represents a single stored answer (first write wins per
// game/player/question)
type Answer struct {
	ID             int       `db:"id" json:"id"`
	GameID         int       `db:"game_id" json:"game_id"`
	PlayerID       int       `db:"player_id" json:"player_id"`
	QuestionID     int       `db:"question_id" json:"question_id"`
	AnswerIndex    int       `db:"answer_index" json:"answer_index"`
	Correct        bool      `db:"correct" json:"correct"`
	ResponseTimeMs int64     `db:"response_time_ms" json:"response_time_ms"`
	PointsAwarded  int       `db:"points_awarded" json:"points_awarded"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TemplateQuestion is a bank question used to seed new games by category
type TemplateQuestion struct {
	ID           int            `db:"id" json:"id"`
	Category     string         `db:"category" json:"category"`
	OrderIndex   int            `db:"order_index" json:"order_index"`
	Question     string         `db:"question" json:"question"`
	Options      pq.StringArray `db:"options" json:"options"`
	CorrectIndex int            `db:"correct_index" json:"correct_index"`
	TimeLimit    int            `db:"time_limit" json:"time_limit"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// QuestionInput is the transport shape for creating or replacing questions
type QuestionInput struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	TimeLimit    int      `json:"timeLimit"`
}

const (
	OptionsPerQuestion = 4
	MinTimeLimit       = 10
	MaxTimeLimit       = 180
	DefaultTimeLimit   = 30
)

var ErrNoQuestions = errors.New("question set is empty")

// Validate checks a single question. A zero TimeLimit is filled with the
// default before range checking.
func (q *QuestionInput) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return errors.New("question text is empty")
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("question must have exactly %d options", OptionsPerQuestion)
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("option %d is empty", i)
		}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= OptionsPerQuestion {
		return fmt.Errorf("correctIndex %d out of range", q.CorrectIndex)
	}
	if q.TimeLimit == 0 {
		q.TimeLimit = DefaultTimeLimit
	}
	if q.TimeLimit < MinTimeLimit || q.TimeLimit > MaxTimeLimit {
		return fmt.Errorf("timeLimit %d out of range (%d-%d)", q.TimeLimit, MinTimeLimit, MaxTimeLimit)
	}
	return nil
}

// ValidateQuestionSet validates a whole replacement set
func ValidateQuestionSet(qs []QuestionInput) error {
	if len(qs) == 0 {
		return ErrNoQuestions
	}
	for i := range qs {
		if err := qs[i].Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}
