package game

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrCapacity        = errors.New("game is full")
	ErrGameFinished    = errors.New("game already finished")
	ErrNotWaiting      = errors.New("game is not waiting for a question")
	ErrNotActive       = errors.New("no question is active")
	ErrNotResults      = errors.New("game is not showing results")
	ErrNotFinished     = errors.New("game is not finished")
	ErrNoQuestions     = errors.New("game has no questions")
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrDuplicateAnswer = errors.New("player already answered this question")
	ErrBadOption       = errors.New("answer option out of range")
)

// Question is the in-memory copy of one quiz question.
type Question struct {
	ID           int      `json:"id"`
	OrderIndex   int      `json:"order_index"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	TimeLimit    int      `json:"time_limit"` // seconds
}

// Player tracks one participant's live state.
type Player struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"-"`
	Score     int       `json:"score"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Answer is one buffered submission for the current question.
type Answer struct {
	PlayerID       int   `json:"player_id"`
	AnswerIndex    int   `json:"answer_index"`
	ResponseTimeMs int64 `json:"response_time_ms"`
	Correct        bool  `json:"correct"`
	Points         int   `json:"points"`
}

// LeaderboardEntry is one row of the ranked score table.
type LeaderboardEntry struct {
	Position  int    `json:"position"`
	PlayerID  int    `json:"playerId"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

// SubmitOutcome reports the result of one accepted answer.
type SubmitOutcome struct {
	PlayerID       int
	AnswerIndex    int
	Correct        bool
	Points         int
	TotalScore     int
	ResponseTimeMs int64
	QuestionIndex  int
	CorrectIndex   int
	AnsweredCount  int
}

// QuestionResults is the aggregate produced when a question ends.
type QuestionResults struct {
	QuestionIndex int
	CorrectIndex  int
	AnswerCounts  []int
	AnsweredCount int
	TotalAnswers  int
	CanContinue   bool
}

// Stats are coarse per-instance counters used by health reporting and
// lifecycle decisions.
type Stats struct {
	PeakPlayers       int
	TotalJoined       int
	TotalAnswers      int
	DroppedFromBuffer int
	LastSweep         time.Time
}

// Instance holds the complete in-memory state of one running game.
// Every mutating entry point takes the instance lock, so all handlers
// touching the same PIN apply in a single serial order.
type Instance struct {
	mu sync.Mutex

	GameID   int
	Pin      string
	Category string

	phase         Phase
	questions     []Question
	questionIndex int
	questionStart int64 // unix ms, 0 outside QUESTION_ACTIVE

	players    map[int]*Player
	maxPlayers int

	answers      []Answer
	answered     map[int]bool
	maxAnswers   int
	totalAnswers int
	dropped      int

	lbCache []LeaderboardEntry
	lbStale bool

	peakPlayers int
	totalJoined int
	lastSweep   time.Time

	createdAt    time.Time
	lastActivity time.Time
}

// New creates a fresh Instance in the WAITING phase.
func New(gameID int, pin, category string, questions []Question, maxPlayers, maxAnswers int) *Instance {
	now := time.Now()
	return &Instance{
		GameID:       gameID,
		Pin:          pin,
		Category:     category,
		phase:        PhaseWaiting,
		questions:    questions,
		players:      make(map[int]*Player),
		maxPlayers:   maxPlayers,
		answered:     make(map[int]bool),
		maxAnswers:   maxAnswers,
		lbStale:      true,
		createdAt:    now,
		lastActivity: now,
	}
}

func (g *Instance) touchLocked() {
	g.lastActivity = time.Now()
}

// Join adds a player, or refreshes an existing one (a rejoin through
// the normal join path). Fails with ErrCapacity when the connected
// count has reached the player cap, and with ErrGameFinished when the
// game is over.
func (g *Instance) Join(p Player) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == PhaseFinished {
		return ErrGameFinished
	}

	if existing, ok := g.players[p.ID]; ok {
		existing.Connected = true
		existing.LastSeen = time.Now()
		if p.Token != "" {
			existing.Token = p.Token
		}
		g.touchLocked()
		return nil
	}

	connected := 0
	for _, pl := range g.players {
		if pl.Connected {
			connected++
		}
	}
	if connected >= g.maxPlayers {
		return ErrCapacity
	}

	np := p
	np.Connected = true
	if np.Name == "" {
		np.Name = fmt.Sprintf("Hráč %d", np.ID)
	}
	now := time.Now()
	np.LastSeen = now
	if np.JoinedAt.IsZero() {
		np.JoinedAt = now
	}
	g.players[np.ID] = &np

	g.totalJoined++
	if len(g.players) > g.peakPlayers {
		g.peakPlayers = len(g.players)
	}
	g.lbStale = true
	g.touchLocked()
	return nil
}

// Reconnect flips a player back to connected and returns a copy.
func (g *Instance) Reconnect(playerID int) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.players[playerID]
	if !ok {
		return Player{}, false
	}
	p.Connected = true
	p.LastSeen = time.Now()
	g.lbStale = true
	g.touchLocked()
	return *p, true
}

// Disconnect marks a player as gone without removing them. The TTL
// sweep removes them later if they never come back.
func (g *Instance) Disconnect(playerID int) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.players[playerID]
	if !ok {
		return Player{}, false
	}
	p.Connected = false
	p.LastSeen = time.Now()
	g.lbStale = true
	g.touchLocked()
	return *p, true
}

// Remove permanently deletes a player and purges their buffered answers
// for the current question. Returns the removed copy.
func (g *Instance) Remove(playerID int) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(playerID)
}

func (g *Instance) removeLocked(playerID int) (Player, bool) {
	p, ok := g.players[playerID]
	if !ok {
		return Player{}, false
	}
	removed := *p
	delete(g.players, playerID)
	delete(g.answered, playerID)

	if len(g.answers) > 0 {
		kept := g.answers[:0]
		for _, a := range g.answers {
			if a.PlayerID != playerID {
				kept = append(kept, a)
			}
		}
		g.answers = kept
	}

	g.lbStale = true
	g.touchLocked()
	return removed, true
}

// StartQuestion begins the current question. Valid only from WAITING.
func (g *Instance) StartQuestion(now time.Time) (Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseWaiting {
		return Question{}, ErrNotWaiting
	}
	if g.questionIndex >= len(g.questions) {
		return Question{}, ErrNoQuestions
	}

	g.phase = PhaseQuestionActive
	g.questionStart = now.UnixMilli()
	g.resetAnswersLocked()
	g.touchLocked()
	return g.questions[g.questionIndex], nil
}

func (g *Instance) resetAnswersLocked() {
	g.answers = g.answers[:0]
	g.answered = make(map[int]bool)
	g.totalAnswers = 0
	g.dropped = 0
}

// SubmitAnswer records one answer for the current question. The caller
// supplies the arrival time and the submitting socket's latency
// estimate; the effective timestamp is arrival minus latency, clamped
// so the response time never goes negative.
func (g *Instance) SubmitAnswer(playerID, option int, nowMs, latencyMs int64) (*SubmitOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseQuestionActive {
		return nil, ErrNotActive
	}
	p, ok := g.players[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if g.answered[playerID] {
		return nil, ErrDuplicateAnswer
	}
	q := g.questions[g.questionIndex]
	if option < 0 || option >= len(q.Options) {
		return nil, ErrBadOption
	}

	effective := nowMs - latencyMs
	responseTime := effective - g.questionStart
	if responseTime < 0 {
		responseTime = 0
	}

	correct := option == q.CorrectIndex
	points := CalculateScore(correct, responseTime, q.TimeLimit)
	p.Score += points
	g.lbStale = true

	a := Answer{
		PlayerID:       playerID,
		AnswerIndex:    option,
		ResponseTimeMs: responseTime,
		Correct:        correct,
		Points:         points,
	}
	if len(g.answers) >= g.maxAnswers {
		// Bounded buffer: evict the oldest entry.
		copy(g.answers, g.answers[1:])
		g.answers[len(g.answers)-1] = a
		g.dropped++
	} else {
		g.answers = append(g.answers, a)
	}
	g.answered[playerID] = true
	g.totalAnswers++
	g.touchLocked()

	return &SubmitOutcome{
		PlayerID:       playerID,
		AnswerIndex:    option,
		Correct:        correct,
		Points:         points,
		TotalScore:     p.Score,
		ResponseTimeMs: responseTime,
		QuestionIndex:  g.questionIndex,
		CorrectIndex:   q.CorrectIndex,
		AnsweredCount:  len(g.answered),
	}, nil
}

// EndQuestion moves QUESTION_ACTIVE to RESULTS and returns the round's
// aggregate.
func (g *Instance) EndQuestion() (*QuestionResults, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endQuestionLocked()
}

// EndQuestionAt is EndQuestion guarded by a question index. The auto-end
// timer uses it so a stale timer cannot close a later question.
func (g *Instance) EndQuestionAt(index int) (*QuestionResults, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.questionIndex != index {
		return nil, ErrNotActive
	}
	return g.endQuestionLocked()
}

func (g *Instance) endQuestionLocked() (*QuestionResults, error) {
	if g.phase != PhaseQuestionActive {
		return nil, ErrNotActive
	}

	q := g.questions[g.questionIndex]
	counts := make([]int, len(q.Options))
	for _, a := range g.answers {
		if a.AnswerIndex >= 0 && a.AnswerIndex < len(counts) {
			counts[a.AnswerIndex]++
		}
	}

	g.phase = PhaseResults
	g.questionStart = 0
	g.touchLocked()

	return &QuestionResults{
		QuestionIndex: g.questionIndex,
		CorrectIndex:  q.CorrectIndex,
		AnswerCounts:  counts,
		AnsweredCount: len(g.answered),
		TotalAnswers:  g.totalAnswers,
		CanContinue:   g.questionIndex < len(g.questions)-1,
	}, nil
}

// Advance moves RESULTS to the next question's WAITING, or to FINISHED
// when no questions remain. Returns whether another question exists.
func (g *Instance) Advance() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseResults {
		return false, ErrNotResults
	}

	g.questionIndex++
	g.resetAnswersLocked()
	g.touchLocked()
	if g.questionIndex >= len(g.questions) {
		g.phase = PhaseFinished
		g.questionStart = 0
		return false, nil
	}
	g.phase = PhaseWaiting
	g.questionStart = 0
	return true, nil
}

// Finish forces the game to FINISHED from any phase.
func (g *Instance) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.phase = PhaseFinished
	g.questionStart = 0
	g.touchLocked()
}

// Reset returns a finished game to the start: question zero, all scores
// cleared, answer buffer emptied. Valid only from FINISHED.
func (g *Instance) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseFinished {
		return ErrNotFinished
	}

	g.phase = PhaseWaiting
	g.questionIndex = 0
	g.questionStart = 0
	g.resetAnswersLocked()
	for _, p := range g.players {
		p.Score = 0
	}
	g.lbStale = true
	g.touchLocked()
	return nil
}

// SetQuestions atomically replaces the question set and returns the
// displaced one, so a caller whose accompanying store write fails can
// put it back. Allowed only while the game is waiting with no question
// underway.
func (g *Instance) SetQuestions(questions []Question) ([]Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseWaiting || g.questionIndex != 0 {
		return nil, ErrNotWaiting
	}
	prev := g.questions
	g.questions = questions
	g.touchLocked()
	return prev, nil
}

// Leaderboard returns all players sorted by score descending, ties
// broken by earlier join, with sequential 1-based positions. The result
// is cached until a score or membership change.
func (g *Instance) Leaderboard() []LeaderboardEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leaderboardLocked()
}

func (g *Instance) leaderboardLocked() []LeaderboardEntry {
	if !g.lbStale && g.lbCache != nil {
		out := make([]LeaderboardEntry, len(g.lbCache))
		copy(out, g.lbCache)
		return out
	}

	entries := make([]LeaderboardEntry, 0, len(g.players))
	order := make(map[int]time.Time, len(g.players))
	for _, p := range g.players {
		entries = append(entries, LeaderboardEntry{
			PlayerID:  p.ID,
			Name:      p.Name,
			Score:     p.Score,
			Connected: p.Connected,
		})
		order[p.ID] = p.JoinedAt
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ti, tj := order[entries[i].PlayerID], order[entries[j].PlayerID]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
	for i := range entries {
		entries[i].Position = i + 1
	}

	g.lbCache = entries
	g.lbStale = false

	out := make([]LeaderboardEntry, len(entries))
	copy(out, entries)
	return out
}

// TopN returns the first n leaderboard rows.
func (g *Instance) TopN(n int) []LeaderboardEntry {
	lb := g.Leaderboard()
	if n > 0 && len(lb) > n {
		lb = lb[:n]
	}
	return lb
}

// LiveStats returns the running per-option counts for the current
// question together with the answered count.
func (g *Instance) LiveStats() (answered int, counts []int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 4
	if g.questionIndex < len(g.questions) {
		n = len(g.questions[g.questionIndex].Options)
	}
	counts = make([]int, n)
	for _, a := range g.answers {
		if a.AnswerIndex >= 0 && a.AnswerIndex < n {
			counts[a.AnswerIndex]++
		}
	}
	return len(g.answered), counts
}

// StateBlob is the authoritative game-state payload used for diffed
// game_state_update broadcasts.
func (g *Instance) StateBlob() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	blob := map[string]interface{}{
		"status":               g.phase.Status(),
		"currentQuestionIndex": g.questionIndex,
		"questionNumber":       g.questionIndex + 1,
		"totalQuestions":       len(g.questions),
	}
	if g.questionStart > 0 {
		blob["questionStartTime"] = g.questionStart
	}
	return blob
}

// CurrentQuestion returns a copy of the question at the current index.
func (g *Instance) CurrentQuestion() (Question, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.questionIndex >= len(g.questions) {
		return Question{}, false
	}
	return g.questions[g.questionIndex], true
}

// Player returns a copy of one player.
func (g *Instance) Player(playerID int) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.players[playerID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// PlayerByToken resolves a player by their opaque reconnect token.
func (g *Instance) PlayerByToken(token string) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if token == "" {
		return Player{}, false
	}
	for _, p := range g.players {
		if subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) == 1 {
			return *p, true
		}
	}
	return Player{}, false
}

// Players returns copies of all players sorted by id.
func (g *Instance) Players() []Player {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Player, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnectedCount returns the number of currently connected players.
func (g *Instance) ConnectedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectedCountLocked()
}

func (g *Instance) connectedCountLocked() int {
	n := 0
	for _, p := range g.players {
		if p.Connected {
			n++
		}
	}
	return n
}

// TotalPlayers returns the number of players, connected or not.
func (g *Instance) TotalPlayers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.players)
}

// Phase returns the current phase.
func (g *Instance) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// QuestionIndex returns the 0-based current question index.
func (g *Instance) QuestionIndex() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.questionIndex
}

// QuestionStart returns the active question's start (unix ms), or 0.
func (g *Instance) QuestionStart() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.questionStart
}

// QuestionCount returns the number of questions in the game.
func (g *Instance) QuestionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.questions)
}

// LastActivity returns the time of the most recent mutation.
func (g *Instance) LastActivity() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastActivity
}

// Idle reports whether the instance has had no activity and no
// connected subjects for at least d.
func (g *Instance) Idle(d time.Duration, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectedCountLocked() == 0 && now.Sub(g.lastActivity) >= d
}

// SweepDisconnected permanently removes players whose disconnected age
// exceeds ttl. Returns copies of the removed players.
func (g *Instance) SweepDisconnected(ttl time.Duration, now time.Time) []Player {
	g.mu.Lock()
	defer g.mu.Unlock()

	var stale []int
	for id, p := range g.players {
		if !p.Connected && now.Sub(p.LastSeen) > ttl {
			stale = append(stale, id)
		}
	}
	removed := make([]Player, 0, len(stale))
	for _, id := range stale {
		if p, ok := g.removeLocked(id); ok {
			removed = append(removed, p)
		}
	}
	if len(removed) > 0 {
		g.lastSweep = now
	}
	return removed
}

// MemoryStats returns the instance counters.
func (g *Instance) MemoryStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		PeakPlayers:       g.peakPlayers,
		TotalJoined:       g.totalJoined,
		TotalAnswers:      g.totalAnswers,
		DroppedFromBuffer: g.dropped,
		LastSweep:         g.lastSweep,
	}
}

// AnswerBufferLen returns the current buffered answer count.
func (g *Instance) AnswerBufferLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.answers)
}

// TotalAnswers returns the running total for the current question,
// including entries evicted from the buffer.
func (g *Instance) TotalAnswers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalAnswers
}

// SnapshotPlayer carries one player through the snapshot round trip,
// token included (Player itself never serializes its token).
type SnapshotPlayer struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	Score     int       `json:"score"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Snapshot is the serializable form of an instance, written to the
// snapshot cache so an active game survives a process restart.
type Snapshot struct {
	GameID        int              `json:"game_id"`
	Pin           string           `json:"pin"`
	Category      string           `json:"category"`
	Status        string           `json:"status"`
	QuestionIndex int              `json:"question_index"`
	QuestionStart int64            `json:"question_start"`
	Questions     []Question       `json:"questions"`
	Players       []SnapshotPlayer `json:"players"`
	TotalJoined   int              `json:"total_joined"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Snapshot captures the instance state for the crash-restart cache.
func (g *Instance) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	players := make([]SnapshotPlayer, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, SnapshotPlayer{
			ID:        p.ID,
			Name:      p.Name,
			Token:     p.Token,
			Score:     p.Score,
			Connected: p.Connected,
			LastSeen:  p.LastSeen,
			JoinedAt:  p.JoinedAt,
		})
	}
	return Snapshot{
		GameID:        g.GameID,
		Pin:           g.Pin,
		Category:      g.Category,
		Status:        g.phase.Status(),
		QuestionIndex: g.questionIndex,
		QuestionStart: g.questionStart,
		Questions:     g.questions,
		Players:       players,
		TotalJoined:   g.totalJoined,
		CreatedAt:     g.createdAt,
	}
}

// FromSnapshot rebuilds an instance after a restart. Every player
// comes back disconnected with a fresh last-seen so the TTL sweep does
// not reap them before they can reconnect, and a question that was
// underway resumes in RESULTS: its timer is gone and replaying it
// would double-score the answers already taken.
func FromSnapshot(s Snapshot, maxPlayers, maxAnswers int) *Instance {
	g := New(s.GameID, s.Pin, s.Category, s.Questions, maxPlayers, maxAnswers)

	phase := PhaseFromStatus(s.Status)
	if phase == PhaseQuestionActive {
		phase = PhaseResults
	}
	g.phase = phase
	g.questionIndex = s.QuestionIndex
	g.totalJoined = s.TotalJoined
	if !s.CreatedAt.IsZero() {
		g.createdAt = s.CreatedAt
	}

	now := time.Now()
	for _, sp := range s.Players {
		g.players[sp.ID] = &Player{
			ID:        sp.ID,
			Name:      sp.Name,
			Token:     sp.Token,
			Score:     sp.Score,
			Connected: false,
			LastSeen:  now,
			JoinedAt:  sp.JoinedAt,
		}
	}
	if len(g.players) > g.peakPlayers {
		g.peakPlayers = len(g.players)
	}
	return g
}
