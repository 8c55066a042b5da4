package handlers

import (
	"log"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/kvizko/backend/internal/models"
)

// TemplateStore is the store slice behind the shared question bank.
type TemplateStore interface {
	GetTemplateQuestions(category string) ([]models.TemplateQuestion, error)
	ReplaceTemplateQuestions(category string, questions []models.QuestionInput) error
}

var validCategory = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// GetTemplates returns the template bank for one category.
func GetTemplates(st TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		category := c.Param("category")
		if !validCategory.MatchString(category) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
			return
		}

		templates, err := st.GetTemplateQuestions(category)
		if err != nil {
			log.Printf("[HTTP] template load failed for category %q: %v", category, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load templates"})
			return
		}

		out := make([]gin.H, len(templates))
		for i, t := range templates {
			out[i] = gin.H{
				"orderIndex":   t.OrderIndex,
				"question":     t.Question,
				"options":      []string(t.Options),
				"correctIndex": t.CorrectIndex,
				"timeLimit":    t.TimeLimit,
			}
		}
		c.JSON(http.StatusOK, gin.H{"category": category, "questions": out})
	}
}

// UpdateTemplates atomically replaces one category's template bank.
func UpdateTemplates(st TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		category := c.Param("category")
		if !validCategory.MatchString(category) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
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

		if err := st.ReplaceTemplateQuestions(category, req.Questions); err != nil {
			log.Printf("[HTTP] template replace failed for category %q: %v", category, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save templates"})
			return
		}

		log.Printf("[HTTP] template category %q replaced (%d questions)", category, len(req.Questions))
		c.JSON(http.StatusOK, gin.H{"category": category, "questionCount": len(req.Questions)})
	}
}
