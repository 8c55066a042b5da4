package ws

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/kvizko/backend/internal/game"
)

// handleStartQuestion opens the current question for answers and arms
// its auto-end timer. Moderator only.
func (p *Protocol) handleStartQuestion(c *Client) {
	inst, ok := p.moderatorSession(c)
	if !ok {
		c.sendEvent(EventError, errorPayload{Message: MsgNotModerator})
		return
	}

	q, err := inst.StartQuestion(p.now())
	if err != nil {
		c.sendEvent(EventError, errorPayload{Message: startErrMessage(inst, err)})
		return
	}

	p.queue.Enqueue(p.store.UpdateGameStateOp(inst.GameID, game.PhaseQuestionActive.Status(), q.OrderIndex, inst.QuestionStart()))

	payload := questionPayloadFor(inst, q, p.now().UnixMilli())
	p.hub.Broadcast(inst.Pin, RoomPlayers, EventQuestionStarted, payload)
	p.hub.Broadcast(inst.Pin, RoomPanels, EventQuestionStarted, payload)

	dash := payload
	dash.CorrectAnswer = &q.CorrectIndex
	p.hub.Broadcast(inst.Pin, RoomModerators, EventQuestionStartedDash, dash)

	p.armQuestionTimer(inst.Pin, q.OrderIndex, time.Duration(q.TimeLimit)*time.Second)

	p.pushState(inst, true)
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] question %d/%d started in game %s (limit %ds)", q.OrderIndex+1, inst.QuestionCount(), inst.Pin, q.TimeLimit)
}

func startErrMessage(inst *game.Instance, err error) string {
	if errors.Is(err, game.ErrNoQuestions) {
		return MsgNoQuestions
	}
	switch inst.Phase() {
	case game.PhaseQuestionActive:
		return MsgQuestionRunning
	case game.PhaseResults:
		return MsgNotInResults
	case game.PhaseFinished:
		return MsgGameFinished
	}
	return MsgInternal
}

// handleEndQuestion closes the running question early. The timeout path
// lands in the same finishQuestion.
func (p *Protocol) handleEndQuestion(c *Client) {
	inst, ok := p.moderatorSession(c)
	if !ok {
		c.sendEvent(EventError, errorPayload{Message: MsgNotModerator})
		return
	}

	res, err := inst.EndQuestion()
	if err != nil {
		c.sendEvent(EventError, errorPayload{Message: MsgNoActiveQuestion})
		return
	}
	log.Printf("[WS] question %d in game %s ended by moderator (%d answers)", res.QuestionIndex+1, inst.Pin, res.TotalAnswers)
	p.finishQuestion(inst, res)
}

// handleNextQuestion advances past the results screen, either into the
// next question's lobby or into the final standings.
func (p *Protocol) handleNextQuestion(c *Client) {
	inst, ok := p.moderatorSession(c)
	if !ok {
		c.sendEvent(EventError, errorPayload{Message: MsgNotModerator})
		return
	}

	more, err := inst.Advance()
	if err != nil {
		c.sendEvent(EventError, errorPayload{Message: MsgNotInResults})
		return
	}
	if !more {
		p.finishGame(inst)
		return
	}

	p.queue.Enqueue(p.store.UpdateGameStateOp(inst.GameID, game.PhaseWaiting.Status(), inst.QuestionIndex(), 0))
	p.pushState(inst, true)
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] game %s advanced to question %d/%d", inst.Pin, inst.QuestionIndex()+1, inst.QuestionCount())
}

// handleEndGame finishes the game immediately from any phase.
func (p *Protocol) handleEndGame(c *Client) {
	inst, ok := p.moderatorSession(c)
	if !ok {
		c.sendEvent(EventError, errorPayload{Message: MsgNotModerator})
		return
	}
	inst.Finish()
	p.finishGame(inst)
}

// handleResetGame returns a finished game to question zero with all
// scores cleared, ready for another run with the same players.
func (p *Protocol) handleResetGame(c *Client) {
	inst, ok := p.moderatorSession(c)
	if !ok {
		c.sendEvent(EventError, errorPayload{Message: MsgNotModerator})
		return
	}

	if err := inst.Reset(); err != nil {
		c.sendEvent(EventError, errorPayload{Message: MsgGameNotFinished})
		return
	}
	p.cancelQuestionTimer(inst.Pin)

	p.queue.Enqueue(p.store.ClearAnswersOp(inst.GameID))
	p.queue.Enqueue(p.store.ClearScoresOp(inst.GameID))
	p.queue.Enqueue(p.store.UpdateGameStateOp(inst.GameID, game.PhaseWaiting.Status(), 0, 0))

	p.pushState(inst, true, MsgGameReset)
	p.hub.Broadcast(inst.Pin, RoomPanels, EventPanelLeaderboard, leaderboardPayload{Leaderboard: inst.TopN(p.cfg.PanelLeaderboardSize)})
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] game %s reset", inst.Pin)
}

// handleSubmitAnswer scores one player submission. The effective answer
// time is the server clock minus the socket's measured latency; the
// client-reported timestamp is never trusted.
func (p *Protocol) handleSubmitAnswer(c *Client, data json.RawMessage) {
	sess, inst, ok := p.playerSession(c)
	if !ok {
		c.sendEvent(EventError, errorPayload{Message: MsgInvalidSession})
		return
	}

	var req submitAnswerPayload
	if err := json.Unmarshal(data, &req); err != nil || req.Answer == nil {
		c.sendEvent(EventError, errorPayload{Message: MsgInvalidAnswer})
		return
	}

	latency := p.latency.EstimateMs(c.socketID)
	out, err := inst.SubmitAnswer(sess.PlayerID, *req.Answer, p.now().UnixMilli(), latency)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrDuplicateAnswer), errors.Is(err, game.ErrNotActive):
			// First write won, or the question closed under them.
		case errors.Is(err, game.ErrBadOption):
			c.sendEvent(EventError, errorPayload{Message: MsgInvalidAnswer})
		default:
			c.sendEvent(EventError, errorPayload{Message: MsgInvalidSession})
		}
		return
	}

	p.queue.Enqueue(p.store.SaveAnswerOp(inst.GameID, out.PlayerID, out.QuestionIndex, out.AnswerIndex, out.Correct, out.Points, out.ResponseTimeMs))
	p.queue.Enqueue(p.store.UpdateScoreOp(inst.GameID, out.PlayerID, out.TotalScore))

	c.sendEvent(EventAnswerResult, answerResultPayload{
		Correct:       out.Correct,
		CorrectAnswer: out.CorrectIndex,
		Points:        out.Points,
		TotalScore:    out.TotalScore,
		ResponseTime:  out.ResponseTimeMs,
	})

	answered, counts := inst.LiveStats()
	p.hub.Broadcast(inst.Pin, RoomModerators, EventLiveStats, liveStatsPayload{
		AnsweredCount: answered,
		AnswerStats:   buildAnswerStats(counts, answered),
	})
}
