package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kvizko/backend/internal/game"
	"github.com/kvizko/backend/internal/models"
	"github.com/kvizko/backend/internal/token"
)

// QuestionStore is the store slice behind the moderator question editor.
type QuestionStore interface {
	ValidateModerator(pin, password, moderatorToken string) (*models.Game, bool)
	GetGameByPin(pin string) (*models.Game, []models.Question, error)
	UpdateGameQuestions(gameID int, questions []models.QuestionInput) error
}

// moderatorGame authenticates the request against the game's moderator
// token (X-Moderator-Token header) and returns the game row.
func moderatorGame(c *gin.Context, st QuestionStore) (*models.Game, bool) {
	pin := c.Param("pin")
	if !token.ValidPin(pin) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return nil, false
	}
	row, ok := st.ValidateModerator(pin, "", c.GetHeader("X-Moderator-Token"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid moderator token"})
		return nil, false
	}
	return row, true
}

// GetGameQuestions returns the full question set, correct answers
// included, for the moderator editor.
func GetGameQuestions(st QuestionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := moderatorGame(c, st)
		if !ok {
			return
		}

		_, questions, err := st.GetGameByPin(row.Pin)
		if err != nil {
			log.Printf("[HTTP] question load failed for game %s: %v", row.Pin, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load questions"})
			return
		}

		out := make([]gin.H, len(questions))
		for i, q := range questions {
			out[i] = gin.H{
				"orderIndex":   q.OrderIndex,
				"question":     q.Question,
				"options":      []string(q.Options),
				"correctIndex": q.CorrectIndex,
				"timeLimit":    q.TimeLimit,
			}
		}
		c.JSON(http.StatusOK, gin.H{"questions": out})
	}
}

// UpdateGameQuestions atomically replaces a game's question set. Allowed
// only before the first question starts; a live instance is swapped in
// the same request so the next start uses the new set, and swapped back
// if the store write fails.
func UpdateGameQuestions(registry *game.Registry, st QuestionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := moderatorGame(c, st)
		if !ok {
			return
		}

		var req struct {
			Questions []models.QuestionInput `json:"questions" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := models.ValidateQuestionSet(req.Questions); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		inst, live := registry.Lookup(row.Pin)
		var displaced []game.Question
		if live {
			var err error
			displaced, err = inst.SetQuestions(questionSet(req.Questions))
			if err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": "Questions can only be changed before the game starts"})
				return
			}
		} else if row.Status != "waiting" || row.CurrentQuestionIndex != 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Questions can only be changed before the game starts"})
			return
		}

		if err := st.UpdateGameQuestions(row.ID, req.Questions); err != nil {
			if live {
				// Put the displaced set back so memory matches the row.
				if _, rbErr := inst.SetQuestions(displaced); rbErr != nil {
					log.Printf("[HTTP] question rollback failed for game %s: %v", row.Pin, rbErr)
				}
			}
			log.Printf("[HTTP] question replace failed for game %s: %v", row.Pin, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save questions"})
			return
		}

		log.Printf("[HTTP] game %s questions replaced (%d questions)", row.Pin, len(req.Questions))
		c.JSON(http.StatusOK, gin.H{"questionCount": len(req.Questions)})
	}
}

// questionSet converts validated inputs into the in-memory shape.
func questionSet(inputs []models.QuestionInput) []game.Question {
	questions := make([]game.Question, len(inputs))
	for i, in := range inputs {
		questions[i] = game.Question{
			OrderIndex:   i,
			Text:         in.Question,
			Options:      in.Options,
			CorrectIndex: in.CorrectIndex,
			TimeLimit:    in.TimeLimit,
		}
	}
	return questions
}
