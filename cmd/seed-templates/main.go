package main

import (
	"encoding/json"
	"log"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"github.com/kvizko/backend/internal/config"
	"github.com/kvizko/backend/internal/database"
	"github.com/kvizko/backend/internal/models"
	"github.com/kvizko/backend/internal/store"
)

// Seeds the shared question-template bank from a JSON file mapping
// category names to question lists:
//
//	{
//	  "vseobecne": [
//	    {"question": "...", "options": ["a","b","c","d"], "correctIndex": 0, "timeLimit": 30}
//	  ]
//	}
//
// Usage: seed-templates [file]   (default templates.json)
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	path := "templates.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read seed file %s: %v", path, err)
	}

	var banks map[string][]models.QuestionInput
	if err := json.Unmarshal(data, &banks); err != nil {
		log.Fatalf("Failed to parse seed file %s: %v", path, err)
	}
	if len(banks) == 0 {
		log.Fatalf("Seed file %s contains no categories", path)
	}

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		log.Fatalf("Failed to prepare store: %v", err)
	}

	categories := make([]string, 0, len(banks))
	for category := range banks {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		questions := banks[category]
		if err := models.ValidateQuestionSet(questions); err != nil {
			log.Fatalf("Category %q: %v", category, err)
		}
		if err := st.ReplaceTemplateQuestions(category, questions); err != nil {
			log.Fatalf("Failed to seed category %q: %v", category, err)
		}
		log.Printf("✓ Seeded category %q (%d questions)", category, len(questions))
	}

	log.Printf("Template bank ready: %d categories", len(categories))
}
