package store

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/kvizko/backend/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPinTaken         = errors.New("pin already taken")
	ErrQuestionNotFound = errors.New("question not found")
)

const addPlayerRetries = 3

// Store is the durable home of games, questions, players and answers.
// Hot-path statements are prepared once; everything else runs inline,
// the way the rest of the service queries Postgres.
type Store struct {
	db *sqlx.DB

	stmtAddPlayer    *sqlx.Stmt
	stmtSaveAnswer   *sqlx.Stmt
	stmtUpdateScore  *sqlx.Stmt
	stmtUpdateState  *sqlx.Stmt
	stmtDisconnect   *sqlx.Stmt
	stmtReconnect    *sqlx.Stmt
	stmtRemovePlayer *sqlx.Stmt
}

// New prepares the hot-path statements and returns a ready Store.
func New(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}

	var err error
	prepare := func(dst **sqlx.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = db.Preparex(query)
	}

	prepare(&s.stmtAddPlayer, `
		INSERT INTO players (game_id, player_id, name, player_token, score, connected, last_seen, joined_at)
		SELECT $1, next_id, 'Hráč ' || next_id, $2, 0, TRUE, NOW(), NOW()
		FROM (SELECT COALESCE(MAX(player_id), 0) + 1 AS next_id FROM players WHERE game_id = $1) n
		RETURNING player_id, name, joined_at`)
	prepare(&s.stmtSaveAnswer, `
		INSERT INTO answers (game_id, player_id, question_id, answer_index, correct, points_awarded, response_time_ms, created_at)
		SELECT $1, $2, q.id, $4, $5, $6, $7, NOW()
		FROM questions q
		WHERE q.game_id = $1 AND q.order_index = $3
		ON CONFLICT (game_id, player_id, question_id) DO NOTHING
		RETURNING id`)
	prepare(&s.stmtUpdateScore, `
		UPDATE players SET score = $3 WHERE game_id = $1 AND player_id = $2`)
	prepare(&s.stmtUpdateState, `
		UPDATE games
		SET status = $2,
		    current_question_index = $3,
		    question_start_time = NULLIF($4, 0),
		    finished_at = CASE WHEN $2 IN ('finished', 'ended') AND finished_at IS NULL THEN NOW() ELSE finished_at END
		WHERE id = $1`)
	prepare(&s.stmtDisconnect, `
		UPDATE players SET connected = FALSE, last_seen = NOW() WHERE game_id = $1 AND player_id = $2`)
	prepare(&s.stmtReconnect, `
		UPDATE players SET connected = TRUE, last_seen = NOW() WHERE game_id = $1 AND player_id = $2`)
	prepare(&s.stmtRemovePlayer, `
		DELETE FROM players WHERE game_id = $1 AND player_id = $2`)

	if err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for composition-root plumbing.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// CreateGame persists a new game with its question set in a single
// transaction. The caller supplies the already-generated moderator token
// and, optionally, the bcrypt hash of the moderator password.
func (s *Store) CreateGame(pin, category, moderatorToken, passwordHash string, questions []models.QuestionInput) (int, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var password sql.NullString
	if passwordHash != "" {
		password = sql.NullString{String: passwordHash, Valid: true}
	}

	var gameID int
	err = tx.QueryRowx(`
		INSERT INTO games (pin, category, status, current_question_index, moderator_token, moderator_password, created_at)
		VALUES ($1, $2, 'waiting', 0, $3, $4, NOW())
		RETURNING id`,
		pin, category, moderatorToken, password).Scan(&gameID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrPinTaken
		}
		return 0, fmt.Errorf("failed to insert game: %w", err)
	}

	if err := insertQuestions(tx, gameID, questions); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit game creation: %w", err)
	}
	return gameID, nil
}

func insertQuestions(tx *sqlx.Tx, gameID int, questions []models.QuestionInput) error {
	for i, q := range questions {
		_, err := tx.Exec(`
			INSERT INTO questions (game_id, order_index, question, options, correct_index, time_limit)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			gameID, i, q.Question, pq.Array(q.Options), q.CorrectIndex, q.TimeLimit)
		if err != nil {
			return fmt.Errorf("failed to insert question %d: %w", i, err)
		}
	}
	return nil
}

// GetGameByPin returns the game row and its ordered question list, or
// ErrNotFound. When an old finished game shares the PIN with an active
// one, the active row wins.
func (s *Store) GetGameByPin(pin string) (*models.Game, []models.Question, error) {
	var game models.Game
	err := s.db.Get(&game, `
		SELECT * FROM games
		WHERE pin = $1
		ORDER BY (status NOT IN ('finished', 'ended')) DESC, created_at DESC
		LIMIT 1`, pin)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load game %s: %w", pin, err)
	}

	questions, err := s.gameQuestions(game.ID)
	if err != nil {
		return nil, nil, err
	}
	return &game, questions, nil
}

// GetGameByID returns the game row and its ordered question list.
func (s *Store) GetGameByID(gameID int) (*models.Game, []models.Question, error) {
	var game models.Game
	err := s.db.Get(&game, `SELECT * FROM games WHERE id = $1`, gameID)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load game %d: %w", gameID, err)
	}

	questions, err := s.gameQuestions(gameID)
	if err != nil {
		return nil, nil, err
	}
	return &game, questions, nil
}

func (s *Store) gameQuestions(gameID int) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.Select(&questions, `
		SELECT * FROM questions WHERE game_id = $1 ORDER BY order_index`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for game %d: %w", gameID, err)
	}
	return questions, nil
}

// UpdateGameQuestions atomically replaces the game's question set.
func (s *Store) UpdateGameQuestions(gameID int, questions []models.QuestionInput) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM questions WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("failed to clear questions for game %d: %w", gameID, err)
	}
	if err := insertQuestions(tx, gameID, questions); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateModerator checks a moderator credential for the game behind
// pin. Either the opaque token or the plain password may be supplied.
// A mismatch is not an error: the second return is simply false.
func (s *Store) ValidateModerator(pin, password, moderatorToken string) (*models.Game, bool) {
	var game models.Game
	err := s.db.Get(&game, `
		SELECT * FROM games
		WHERE pin = $1
		ORDER BY (status NOT IN ('finished', 'ended')) DESC, created_at DESC
		LIMIT 1`, pin)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[STORE] ValidateModerator query failed for pin %s: %v", pin, err)
		}
		return nil, false
	}

	if moderatorToken != "" &&
		subtle.ConstantTimeCompare([]byte(moderatorToken), []byte(game.ModeratorToken)) == 1 {
		return &game, true
	}
	if password != "" && game.ModeratorPassword.Valid &&
		bcrypt.CompareHashAndPassword([]byte(game.ModeratorPassword.String), []byte(password)) == nil {
		return &game, true
	}
	return nil, false
}

// AddPlayer creates the next player for a game. The player id is a
// per-game ordinal, so concurrent joins can collide on the primary key;
// those retries are cheap and bounded.
func (s *Store) AddPlayer(gameID int, playerToken string) (*models.Player, error) {
	for attempt := 0; attempt < addPlayerRetries; attempt++ {
		p := models.Player{GameID: gameID, PlayerToken: playerToken, Connected: true}
		err := s.stmtAddPlayer.QueryRowx(gameID, playerToken).Scan(&p.PlayerID, &p.Name, &p.JoinedAt)
		if err == nil {
			p.LastSeen = p.JoinedAt
			return &p, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add player to game %d: %w", gameID, err)
	}
	return nil, fmt.Errorf("failed to add player to game %d: ordinal contention", gameID)
}

// DisconnectPlayer marks a player as gone and refreshes last_seen.
func (s *Store) DisconnectPlayer(gameID, playerID int) error {
	_, err := s.stmtDisconnect.Exec(gameID, playerID)
	if err != nil {
		return fmt.Errorf("failed to disconnect player %d/%d: %w", gameID, playerID, err)
	}
	return nil
}

// UpdatePlayerScore writes the player's absolute score. Idempotent.
func (s *Store) UpdatePlayerScore(gameID, playerID, score int) error {
	_, err := s.stmtUpdateScore.Exec(gameID, playerID, score)
	if err != nil {
		return fmt.Errorf("failed to update score for player %d/%d: %w", gameID, playerID, err)
	}
	return nil
}

// SaveAnswer records one answer, first write wins. A duplicate
// submission returns the existing answer id untouched. The question is
// addressed by its order index within the game.
func (s *Store) SaveAnswer(gameID, playerID, questionOrderIndex, answerIndex int, correct bool, points int, responseTimeMs int64) (int, error) {
	var answerID int
	err := s.stmtSaveAnswer.QueryRowx(
		gameID, playerID, questionOrderIndex, answerIndex, correct, points, responseTimeMs,
	).Scan(&answerID)
	if err == nil {
		return answerID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to save answer for player %d/%d: %w", gameID, playerID, err)
	}

	// No row back: either the conflict swallowed the insert or the
	// question index is bogus. Look for the existing answer first.
	err = s.db.Get(&answerID, `
		SELECT a.id FROM answers a
		JOIN questions q ON q.id = a.question_id
		WHERE a.game_id = $1 AND a.player_id = $2 AND q.order_index = $3`,
		gameID, playerID, questionOrderIndex)
	if err == nil {
		return answerID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up existing answer: %w", err)
	}
	return 0, ErrQuestionNotFound
}

// UpdateGameState writes the authoritative state triple. A zero
// questionStartMs persists as NULL (no question underway).
func (s *Store) UpdateGameState(gameID int, status string, currentQuestionIndex int, questionStartMs int64) error {
	_, err := s.stmtUpdateState.Exec(gameID, status, currentQuestionIndex, questionStartMs)
	if err != nil {
		return fmt.Errorf("failed to update state for game %d: %w", gameID, err)
	}
	return nil
}

// RemovePlayer permanently deletes a player row.
func (s *Store) RemovePlayer(gameID, playerID int) error {
	_, err := s.stmtRemovePlayer.Exec(gameID, playerID)
	if err != nil {
		return fmt.Errorf("failed to remove player %d/%d: %w", gameID, playerID, err)
	}
	return nil
}

// RemoveAllPlayersFromGame deletes every player of a game and returns
// the number of rows removed.
func (s *Store) RemoveAllPlayersFromGame(gameID int) (int, error) {
	res, err := s.db.Exec(`DELETE FROM players WHERE game_id = $1`, gameID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove players of game %d: %w", gameID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearGameAnswers wipes all stored answers of a game. A reset round
// must clear them or first-write-wins would block the replay.
func (s *Store) ClearGameAnswers(gameID int) (int, error) {
	res, err := s.db.Exec(`DELETE FROM answers WHERE game_id = $1`, gameID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear answers of game %d: %w", gameID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListGamePlayers returns all players of a game in join order.
func (s *Store) ListGamePlayers(gameID int) ([]models.Player, error) {
	var players []models.Player
	err := s.db.Select(&players, `
		SELECT * FROM players WHERE game_id = $1 ORDER BY player_id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players of game %d: %w", gameID, err)
	}
	return players, nil
}

// CleanupOldGames deletes games created before the cutoff. Questions,
// players and answers go with them through the cascades.
func (s *Store) CleanupOldGames(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM games WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old games: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountActiveGames reports how many games are neither finished nor ended.
func (s *Store) CountActiveGames() (int, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM games WHERE status NOT IN ('finished', 'ended')`)
	if err != nil {
		return 0, fmt.Errorf("failed to count active games: %w", err)
	}
	return n, nil
}

// GetTemplateQuestions returns the question bank for a category in
// stable order.
func (s *Store) GetTemplateQuestions(category string) ([]models.TemplateQuestion, error) {
	var templates []models.TemplateQuestion
	err := s.db.Select(&templates, `
		SELECT * FROM question_templates WHERE category = $1 ORDER BY order_index, id`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates for %s: %w", category, err)
	}
	return templates, nil
}

// ReplaceTemplateQuestions atomically replaces a category's bank.
func (s *Store) ReplaceTemplateQuestions(category string, questions []models.QuestionInput) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM question_templates WHERE category = $1`, category); err != nil {
		return fmt.Errorf("failed to clear templates for %s: %w", category, err)
	}
	for i, q := range questions {
		_, err := tx.Exec(`
			INSERT INTO question_templates (category, order_index, question, options, correct_index, time_limit, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			category, i, q.Question, pq.Array(q.Options), q.CorrectIndex, q.TimeLimit)
		if err != nil {
			return fmt.Errorf("failed to insert template %d for %s: %w", i, category, err)
		}
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
