package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kvizko/backend/internal/game"
	"github.com/kvizko/backend/internal/models"
	"github.com/kvizko/backend/internal/store"
	"github.com/kvizko/backend/internal/token"
)

// GameReader is the store slice behind the public game lookup.
type GameReader interface {
	GetGameByPin(pin string) (*models.Game, []models.Question, error)
	ListGamePlayers(gameID int) ([]models.Player, error)
}

// GetGame returns the public pre-join summary for a PIN. The live
// instance is authoritative when present; otherwise the store row
// answers without pulling the game back into memory.
func GetGame(registry *game.Registry, st GameReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		pin := c.Param("pin")
		if !token.ValidPin(pin) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}

		if inst, ok := registry.Lookup(pin); ok {
			c.JSON(http.StatusOK, gin.H{
				"pin":                  inst.Pin,
				"status":               inst.Phase().Status(),
				"category":             inst.Category,
				"questionCount":        inst.QuestionCount(),
				"currentQuestionIndex": inst.QuestionIndex(),
				"playersCount":         inst.TotalPlayers(),
			})
			return
		}

		row, questions, err := st.GetGameByPin(pin)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("[HTTP] game lookup failed for pin %s: %v", pin, err)
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}
		players, err := st.ListGamePlayers(row.ID)
		if err != nil {
			log.Printf("[HTTP] player count failed for pin %s: %v", pin, err)
		}
		c.JSON(http.StatusOK, gin.H{
			"pin":                  row.Pin,
			"status":               row.Status,
			"category":             row.Category,
			"questionCount":        len(questions),
			"currentQuestionIndex": row.CurrentQuestionIndex,
			"playersCount":         len(players),
		})
	}
}
