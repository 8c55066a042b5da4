package ws

import (
	"encoding/json"
	"log"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kvizko/backend/internal/config"
	"github.com/kvizko/backend/internal/game"
	"github.com/kvizko/backend/internal/models"
	"github.com/kvizko/backend/internal/store"
)

// GameStore is the slice of the persistence layer the protocol calls
// directly, plus the constructors for its deferred writes.
type GameStore interface {
	CreateGame(pin, category, moderatorToken, passwordHash string, questions []models.QuestionInput) (int, error)
	GetGameByPin(pin string) (*models.Game, []models.Question, error)
	ValidateModerator(pin, password, moderatorToken string) (*models.Game, bool)
	AddPlayer(gameID int, playerToken string) (*models.Player, error)
	GetTemplateQuestions(category string) ([]models.TemplateQuestion, error)

	SaveAnswerOp(gameID, playerID, questionOrderIndex, answerIndex int, correct bool, points int, responseTimeMs int64) store.Op
	UpdateScoreOp(gameID, playerID, score int) store.Op
	UpdateGameStateOp(gameID int, status string, currentQuestionIndex int, questionStartMs int64) store.Op
	DisconnectPlayerOp(gameID, playerID int) store.Op
	ReconnectPlayerOp(gameID, playerID int) store.Op
	RemovePlayerOp(gameID, playerID int) store.Op
	ClearAnswersOp(gameID int) store.Op
	ClearScoresOp(gameID int) store.Op
}

// WriteQueue receives the protocol's deferred store mutations.
type WriteQueue interface {
	Enqueue(op store.Op)
}

// Protocol dispatches client events to the game layer and shapes what
// goes back out. One instance serves the whole hub.
type Protocol struct {
	store    GameStore
	queue    WriteQueue
	registry *game.Registry
	hub      *Hub
	sessions *Sessions
	latency  *Latency
	cache    *StateCache
	cfg      *config.Config

	// now is swapped out in tests; scoring depends on the clock.
	now func() time.Time

	timerMu sync.Mutex
	timers  map[string]*questionTimer
}

// questionTimer is one armed auto-end, remembered with its question
// index so a stale fire cannot end the wrong question.
type questionTimer struct {
	timer *time.Timer
	index int
}

func NewProtocol(gs GameStore, queue WriteQueue, registry *game.Registry, hub *Hub, cfg *config.Config) *Protocol {
	p := &Protocol{
		store:    gs,
		queue:    queue,
		registry: registry,
		hub:      hub,
		sessions: NewSessions(),
		latency:  NewLatency(),
		cache:    NewStateCache(),
		cfg:      cfg,
		now:      time.Now,
		timers:   make(map[string]*questionTimer),
	}
	hub.SetHandler(p)
	return p
}

// Shutdown stops every armed question timer.
func (p *Protocol) Shutdown() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	for pin, t := range p.timers {
		t.timer.Stop()
		delete(p.timers, pin)
	}
}

// HandleMessage routes one parsed client event. A panic in a handler is
// logged with its context and answered with a generic error; the
// connection stays up.
func (p *Protocol) HandleMessage(c *Client, msg WSMessage) {
	defer func() {
		if r := recover(); r != nil {
			sess, _ := p.sessions.Get(c.socketID)
			log.Printf("[WS] panic handling %s from socket %s (pin=%s): %v\n%s",
				msg.Type, c.socketID, sess.Pin, r, debug.Stack())
			c.sendEvent(EventError, errorPayload{Message: MsgInternal})
		}
	}()

	switch msg.Type {
	case EventCreateGame:
		p.handleCreateGame(c, msg.Data)
	case EventJoinGame:
		p.handleJoinGame(c, msg.Data)
	case EventReconnectPlayer:
		p.handleReconnectPlayer(c, msg.Data)
	case EventReconnectModerator:
		p.handleReconnectModerator(c, msg.Data)
	case EventJoinPanel:
		p.handleJoinPanel(c, msg.Data)
	case EventStartQuestion:
		p.handleStartQuestion(c)
	case EventEndQuestion:
		p.handleEndQuestion(c)
	case EventNextQuestion:
		p.handleNextQuestion(c)
	case EventEndGame:
		p.handleEndGame(c)
	case EventResetGame:
		p.handleResetGame(c)
	case EventSubmitAnswer:
		p.handleSubmitAnswer(c, msg.Data)
	case EventLeaveGame:
		p.handleLeaveGame(c, msg.Data)
	case EventLatencyPong:
		p.handleLatencyPong(c, msg.Data)
	default:
		log.Printf("[WS] unknown event %q from socket %s", msg.Type, c.socketID)
	}
}

// HandleDisconnect runs when a socket's read pump exits. Displaced
// connections (a newer socket took over the player) must not touch the
// player's state.
func (p *Protocol) HandleDisconnect(c *Client) {
	p.latency.Forget(c.socketID)

	sess, current, ok := p.sessions.Unbind(c.socketID)
	if !ok {
		return
	}
	if sess.Role != RolePlayer || !current {
		return
	}
	p.disconnectPlayer(sess.Pin, sess.PlayerID)
}

// disconnectPlayer marks a player disconnected in their live game and
// queues the store write. Shared by socket teardown and rebinds.
func (p *Protocol) disconnectPlayer(pin string, playerID int) {
	inst, found := p.registry.Lookup(pin)
	if !found {
		return
	}
	if _, changed := inst.Disconnect(playerID); changed {
		p.queue.Enqueue(p.store.DisconnectPlayerOp(inst.GameID, playerID))
		log.Printf("[WS] player %d disconnected from game %s", playerID, pin)
	}
}

// releasePrevious disconnects the player persona a socket held before a
// new handshake rebinds it. Rebinding the same player to the same game
// is a no-op; everything else leaves the old game with an ordinary
// disconnect, so the player neither holds a capacity slot nor outlives
// the TTL sweep.
func (p *Protocol) releasePrevious(c *Client, pin string, playerID int) {
	sess, ok := p.sessions.Get(c.socketID)
	if !ok || sess.Role != RolePlayer {
		return
	}
	if sess.Pin == pin && sess.PlayerID == playerID {
		return
	}
	p.disconnectPlayer(sess.Pin, sess.PlayerID)
}

// handleLatencyPong consumes an echoed probe timestamp.
func (p *Protocol) handleLatencyPong(c *Client, data json.RawMessage) {
	var echoed int64
	if err := json.Unmarshal(data, &echoed); err != nil {
		return
	}
	p.latency.Pong(c.socketID, echoed, p.now().UnixMilli())
}

// LatencyTick fans a ping out to every live socket. Called by the
// reaper on its probe interval. A socket torn down between the snapshot
// and the send swallows the ping and records no pending probe.
func (p *Protocol) LatencyTick() {
	now := p.now().UnixMilli()
	p.hub.ForEach(func(c *Client) {
		if c.sendEvent(EventLatencyPing, now) {
			p.latency.Probe(c.socketID, now)
		}
	})
}

// PlayerSwept persists and announces a TTL removal decided by the
// reaper.
func (p *Protocol) PlayerSwept(inst *game.Instance, pl game.Player) {
	p.queue.Enqueue(p.store.RemovePlayerOp(inst.GameID, pl.ID))
	payload := playerEventPayload{PlayerName: pl.Name, TotalPlayers: inst.TotalPlayers()}
	p.hub.Broadcast(inst.Pin, RoomModerators, EventPlayerLeft, payload)
	p.hub.Broadcast(inst.Pin, RoomPanels, EventPlayerLeft, payload)
}

// GameEvicted clears the per-PIN transient state when the reaper drops
// a game from memory.
func (p *Protocol) GameEvicted(inst *game.Instance) {
	p.cancelQuestionTimer(inst.Pin)
	p.cache.Forget(inst.Pin)
}

// HasSubscribers reports whether any socket of any role is attached to
// the PIN.
func (p *Protocol) HasSubscribers(pin string) bool {
	return p.hub.RoomCount(pin, RoomAll) > 0
}

// playerSession resolves the caller as a player of a live game.
func (p *Protocol) playerSession(c *Client) (Session, *game.Instance, bool) {
	sess, ok := p.sessions.Get(c.socketID)
	if !ok || sess.Role != RolePlayer {
		return Session{}, nil, false
	}
	inst, ok := p.registry.Lookup(sess.Pin)
	if !ok {
		return Session{}, nil, false
	}
	return sess, inst, true
}

// moderatorSession resolves the caller as the moderator of a live game.
func (p *Protocol) moderatorSession(c *Client) (*game.Instance, bool) {
	sess, ok := p.sessions.Get(c.socketID)
	if !ok || sess.Role != RoleModerator {
		return nil, false
	}
	inst, ok := p.registry.Lookup(sess.Pin)
	if !ok {
		return nil, false
	}
	return inst, true
}

// pushState recomputes the role-shaped state blobs and broadcasts what
// changed. force bypasses the diff, used on phase transitions so every
// room resynchronizes on a full blob. An optional message rides along
// for clients to display.
func (p *Protocol) pushState(inst *game.Instance, force bool, message ...string) {
	pin := inst.Pin
	base := inst.StateBlob()
	if len(message) > 0 && message[0] != "" {
		base["message"] = message[0]
	}

	playerBlob := cloneBlob(base)
	if diff := p.cache.Diff(pin, RoomPlayers, playerBlob, force); diff != nil {
		p.hub.Broadcast(pin, RoomPlayers, EventGameStateUpdate, diff)
	}

	answered, _ := inst.LiveStats()
	modBlob := cloneBlob(base)
	modBlob["answeredCount"] = answered
	modBlob["totalPlayers"] = inst.TotalPlayers()
	modBlob["connectedCount"] = inst.ConnectedCount()
	if diff := p.cache.Diff(pin, RoomModerators, modBlob, force); diff != nil {
		p.hub.Broadcast(pin, RoomModerators, EventGameStateUpdate, diff)
	}

	panelBlob := cloneBlob(base)
	panelBlob["totalPlayers"] = inst.TotalPlayers()
	if diff := p.cache.Diff(pin, RoomPanels, panelBlob, force); diff != nil {
		p.hub.Broadcast(pin, RoomPanels, EventGameStateUpdate, diff)
	}
}

func cloneBlob(base map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+3)
	for k, v := range base {
		out[k] = v
	}
	return out
}

// armQuestionTimer schedules the auto-end for the question at index.
// Any previous timer for the PIN is stopped first.
func (p *Protocol) armQuestionTimer(pin string, index int, limit time.Duration) {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if t, ok := p.timers[pin]; ok {
		t.timer.Stop()
	}
	p.timers[pin] = &questionTimer{
		index: index,
		timer: time.AfterFunc(limit, func() { p.autoEndQuestion(pin, index) }),
	}
}

func (p *Protocol) cancelQuestionTimer(pin string) {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if t, ok := p.timers[pin]; ok {
		t.timer.Stop()
		delete(p.timers, pin)
	}
}

// autoEndQuestion fires when the question's time limit elapses. The
// index guard makes a stale timer a no-op: if the moderator already
// ended the question (or the game moved on), EndQuestionAt refuses.
func (p *Protocol) autoEndQuestion(pin string, index int) {
	inst, ok := p.registry.Lookup(pin)
	if !ok {
		return
	}
	res, err := inst.EndQuestionAt(index)
	if err != nil {
		return
	}
	log.Printf("[WS] question %d in game %s ended by timeout", index+1, pin)
	p.finishQuestion(inst, res)
}

// finishQuestion runs the shared RESULTS transition: persist, announce,
// snapshot. Used by the explicit end and the timeout alike.
func (p *Protocol) finishQuestion(inst *game.Instance, res *game.QuestionResults) {
	p.cancelQuestionTimer(inst.Pin)
	p.queue.Enqueue(p.store.UpdateGameStateOp(inst.GameID, game.PhaseResults.Status(), res.QuestionIndex, 0))

	top := inst.TopN(p.cfg.PanelLeaderboardSize)
	stats := buildAnswerStats(res.AnswerCounts, res.AnsweredCount)
	payload := questionEndedPayload{
		CorrectAnswer: res.CorrectIndex,
		Leaderboard:   top,
		AnswerStats:   stats,
		TotalAnswers:  res.TotalAnswers,
		TotalPlayers:  inst.TotalPlayers(),
		CanContinue:   res.CanContinue,
	}
	p.hub.Broadcast(inst.Pin, RoomAll, EventQuestionEnded, payload)

	dash := payload
	dash.Leaderboard = inst.Leaderboard()
	p.hub.Broadcast(inst.Pin, RoomModerators, EventQuestionEndedDash, dash)

	p.hub.Broadcast(inst.Pin, RoomPanels, EventPanelLeaderboard, leaderboardPayload{Leaderboard: top})

	p.pushState(inst, true)
	p.registry.SaveSnapshot(inst)
}

// finishGame runs the shared FINISHED transition.
func (p *Protocol) finishGame(inst *game.Instance) {
	p.cancelQuestionTimer(inst.Pin)
	p.queue.Enqueue(p.store.UpdateGameStateOp(inst.GameID, game.PhaseFinished.Status(), inst.QuestionIndex(), 0))

	full := gameEndedPayload{
		TotalPlayers:   inst.TotalPlayers(),
		TotalQuestions: inst.QuestionCount(),
		Leaderboard:    inst.Leaderboard(),
	}
	p.hub.Broadcast(inst.Pin, RoomModerators, EventGameEndedDash, full)

	panel := full
	panel.Leaderboard = inst.TopN(p.cfg.PanelLeaderboardSize)
	p.hub.Broadcast(inst.Pin, RoomPanels, EventPanelGameEnded, panel)

	p.pushState(inst, true)
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] game %s finished (%d players, %d questions)", inst.Pin, full.TotalPlayers, full.TotalQuestions)
}

// buildAnswerStats turns per-option counts into the broadcast shape.
func buildAnswerStats(counts []int, answered int) []answerStat {
	stats := make([]answerStat, len(counts))
	for i, n := range counts {
		stats[i] = answerStat{Option: i, Count: n}
		if answered > 0 {
			stats[i].Percent = math.Round(float64(n)/float64(answered)*1000) / 10
		}
	}
	return stats
}

// questionPayloadFor builds the question-start payload. remaining is
// the full limit on a fresh start and whatever is left of it when
// re-sent to a reconnecting player.
func questionPayloadFor(inst *game.Instance, q game.Question, nowMs int64) questionPayload {
	remaining := q.TimeLimit
	if start := inst.QuestionStart(); start > 0 {
		elapsed := int((nowMs - start) / 1000)
		if elapsed > 0 {
			remaining -= elapsed
		}
		if remaining < 0 {
			remaining = 0
		}
	}
	return questionPayload{
		QuestionNumber: q.OrderIndex + 1,
		TotalQuestions: inst.QuestionCount(),
		Question:       q.Text,
		Options:        q.Options,
		TimeLimit:      q.TimeLimit,
		TimeRemaining:  remaining,
		ServerTime:     nowMs,
	}
}

// Wire payloads. Field names are the protocol surface; clients bind to
// them.

type errorPayload struct {
	Message string `json:"message"`
}

type createGamePayload struct {
	Category          string `json:"category"`
	CustomPin         string `json:"customPin"`
	ModeratorPassword string `json:"moderatorPassword"`
}

type gameCreatedPayload struct {
	GamePin        string `json:"gamePin"`
	QuestionCount  int    `json:"questionCount"`
	ModeratorToken string `json:"moderatorToken"`
}

type joinGamePayload struct {
	GamePin string `json:"gamePin"`
}

type gameJoinedPayload struct {
	GamePin      string `json:"gamePin"`
	PlayerID     int    `json:"playerId"`
	PlayerName   string `json:"playerName"`
	PlayerToken  string `json:"playerToken"`
	PlayersCount int    `json:"playersCount"`
}

type reconnectPlayerPayload struct {
	GamePin     string `json:"gamePin"`
	PlayerToken string `json:"playerToken"`
}

type playerReconnectedPayload struct {
	GamePin    string `json:"gamePin"`
	PlayerID   int    `json:"playerId"`
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
	GameStatus string `json:"gameStatus"`
}

type reconnectModeratorPayload struct {
	GamePin        string `json:"gamePin"`
	Password       string `json:"password"`
	ModeratorToken string `json:"moderatorToken"`
}

type playerSummary struct {
	PlayerID  int    `json:"playerId"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

type moderatorReconnectedPayload struct {
	GamePin              string          `json:"gamePin"`
	Status               string          `json:"status"`
	Players              []playerSummary `json:"players"`
	TotalPlayers         int             `json:"totalPlayers"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	QuestionCount        int             `json:"questionCount"`
	ModeratorToken       string          `json:"moderatorToken"`
}

type panelJoinedPayload struct {
	GamePin       string `json:"gamePin"`
	QuestionCount int    `json:"questionCount"`
	GameStatus    string `json:"gameStatus"`
}

type questionPayload struct {
	QuestionNumber int      `json:"questionNumber"`
	TotalQuestions int      `json:"totalQuestions"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	TimeLimit      int      `json:"timeLimit"`
	TimeRemaining  int      `json:"timeRemaining"`
	ServerTime     int64    `json:"serverTime"`
	CorrectAnswer  *int     `json:"correctAnswer,omitempty"`
}

type submitAnswerPayload struct {
	Answer *int `json:"answer"`
	// Client clock at send time; the server's own clock minus the
	// measured latency is authoritative, so this is never scored.
	Timestamp int64 `json:"timestamp"`
}

type answerResultPayload struct {
	Correct       bool  `json:"correct"`
	CorrectAnswer int   `json:"correctAnswer"`
	Points        int   `json:"points"`
	TotalScore    int   `json:"totalScore"`
	ResponseTime  int64 `json:"responseTime"`
}

type answerStat struct {
	Option  int     `json:"option"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type liveStatsPayload struct {
	AnsweredCount int          `json:"answeredCount"`
	AnswerStats   []answerStat `json:"answerStats"`
}

type questionEndedPayload struct {
	CorrectAnswer int                     `json:"correctAnswer"`
	Leaderboard   []game.LeaderboardEntry `json:"leaderboard"`
	AnswerStats   []answerStat            `json:"answerStats"`
	TotalAnswers  int                     `json:"totalAnswers"`
	TotalPlayers  int                     `json:"totalPlayers"`
	CanContinue   bool                    `json:"canContinue"`
}

type playerEventPayload struct {
	PlayerName   string `json:"playerName"`
	TotalPlayers int    `json:"totalPlayers"`
}

type leaderboardPayload struct {
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

type gameEndedPayload struct {
	TotalPlayers   int                     `json:"totalPlayers"`
	TotalQuestions int                     `json:"totalQuestions"`
	Leaderboard    []game.LeaderboardEntry `json:"leaderboard"`
}

type leaveGamePayload struct {
	GamePin     string `json:"gamePin"`
	PlayerToken string `json:"playerToken"`
}
