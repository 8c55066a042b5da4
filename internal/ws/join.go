package ws

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/kvizko/backend/internal/game"
	"github.com/kvizko/backend/internal/models"
	"github.com/kvizko/backend/internal/store"
	"github.com/kvizko/backend/internal/token"
)

const createPinAttempts = 5

// handleCreateGame builds a new game for the calling moderator: the
// question set comes from the template bank for the requested category,
// the PIN is either the validated custom one or freshly sampled, and the
// caller gets the opaque moderator token back.
func (p *Protocol) handleCreateGame(c *Client, data json.RawMessage) {
	var req createGamePayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendEvent(EventCreateGameError, errorPayload{Message: MsgBadPayload})
		return
	}

	category := req.Category
	if category == "" {
		category = p.cfg.DefaultCategory
	}

	templates, err := p.store.GetTemplateQuestions(category)
	if err != nil {
		log.Printf("[WS] template load failed for category %q: %v", category, err)
		c.sendEvent(EventCreateGameError, errorPayload{Message: MsgStoreFailed})
		return
	}
	if len(templates) == 0 {
		c.sendEvent(EventCreateGameError, errorPayload{Message: MsgNoQuestions})
		return
	}

	inputs := make([]models.QuestionInput, len(templates))
	for i, t := range templates {
		inputs[i] = models.QuestionInput{
			Question:     t.Question,
			Options:      []string(t.Options),
			CorrectIndex: t.CorrectIndex,
			TimeLimit:    t.TimeLimit,
		}
	}

	if req.CustomPin != "" && !token.ValidPin(req.CustomPin) {
		c.sendEvent(EventCreateGameError, errorPayload{Message: MsgInvalidPin})
		return
	}

	passwordHash := ""
	if req.ModeratorPassword != "" {
		passwordHash, err = token.HashPassword(req.ModeratorPassword)
		if err != nil {
			log.Printf("[WS] password hash failed: %v", err)
			c.sendEvent(EventCreateGameError, errorPayload{Message: MsgInternal})
			return
		}
	}

	moderatorToken := token.NewSessionToken()

	// The store's partial unique index is the authoritative collision
	// check; the in-memory probe just avoids wasting an insert.
	var gameID int
	var pin string
	for attempt := 0; attempt < createPinAttempts; attempt++ {
		if req.CustomPin != "" {
			pin = req.CustomPin
		} else {
			pin = token.NewPin()
		}
		if p.registry.PinInUse(pin) {
			if req.CustomPin != "" {
				c.sendEvent(EventCreateGameError, errorPayload{Message: MsgPinTaken})
				return
			}
			continue
		}

		gameID, err = p.store.CreateGame(pin, category, moderatorToken, passwordHash, inputs)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrPinTaken) {
			if req.CustomPin != "" {
				c.sendEvent(EventCreateGameError, errorPayload{Message: MsgPinTaken})
				return
			}
			continue
		}
		log.Printf("[WS] game creation failed for pin %s: %v", pin, err)
		c.sendEvent(EventCreateGameError, errorPayload{Message: MsgStoreFailed})
		return
	}
	if gameID == 0 {
		log.Printf("[WS] no free pin found after %d attempts", createPinAttempts)
		c.sendEvent(EventCreateGameError, errorPayload{Message: MsgPinTaken})
		return
	}

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

	inst := p.registry.NewInstance(gameID, pin, category, questions)
	p.registry.Register(inst)

	p.releasePrevious(c, pin, 0)
	p.sessions.Bind(c.socketID, RoleModerator, pin, 0)
	p.hub.JoinRoom(pin, RoomModerators, c)

	c.sendEvent(EventGameCreated, gameCreatedPayload{
		GamePin:        pin,
		QuestionCount:  len(questions),
		ModeratorToken: moderatorToken,
	})
	p.pushState(inst, true)
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] game %s created (id=%d, category=%s, %d questions)", pin, gameID, category, len(questions))
}

// handleJoinGame admits a new player. The capacity probe runs before the
// store insert so a full game never grows a player row.
func (p *Protocol) handleJoinGame(c *Client, data json.RawMessage) {
	var req joinGamePayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendEvent(EventJoinError, errorPayload{Message: MsgBadPayload})
		return
	}
	if !token.ValidPin(req.GamePin) {
		c.sendEvent(EventJoinError, errorPayload{Message: MsgInvalidPin})
		return
	}

	inst, err := p.registry.GetOrRestore(req.GamePin)
	if err != nil {
		c.sendEvent(EventJoinError, errorPayload{Message: lookupErrMessage(err)})
		return
	}
	if inst.Phase() == game.PhaseFinished {
		c.sendEvent(EventJoinError, errorPayload{Message: MsgGameFinished})
		return
	}
	if inst.ConnectedCount() >= p.cfg.MaxPlayersPerGame {
		c.sendEvent(EventJoinError, errorPayload{Message: MsgGameFull})
		return
	}

	playerToken := token.NewSessionToken()
	row, err := p.store.AddPlayer(inst.GameID, playerToken)
	if err != nil {
		log.Printf("[WS] player insert failed for game %s: %v", inst.Pin, err)
		c.sendEvent(EventJoinError, errorPayload{Message: MsgStoreFailed})
		return
	}

	err = inst.Join(game.Player{
		ID:       row.PlayerID,
		Name:     row.Name,
		Token:    playerToken,
		JoinedAt: row.JoinedAt,
	})
	if err != nil {
		// Lost the admission race; take the just-created row back out.
		p.queue.Enqueue(p.store.RemovePlayerOp(inst.GameID, row.PlayerID))
		msg := MsgGameFull
		if errors.Is(err, game.ErrGameFinished) {
			msg = MsgGameFinished
		}
		c.sendEvent(EventJoinError, errorPayload{Message: msg})
		return
	}

	p.releasePrevious(c, inst.Pin, row.PlayerID)
	if displaced := p.sessions.Bind(c.socketID, RolePlayer, inst.Pin, row.PlayerID); displaced != "" {
		p.hub.CloseSocket(displaced, "replaced by a new connection")
	}
	p.hub.JoinRoom(inst.Pin, RoomPlayers, c)

	c.sendEvent(EventGameJoined, gameJoinedPayload{
		GamePin:      inst.Pin,
		PlayerID:     row.PlayerID,
		PlayerName:   row.Name,
		PlayerToken:  playerToken,
		PlayersCount: inst.ConnectedCount(),
	})

	joined := playerEventPayload{PlayerName: row.Name, TotalPlayers: inst.TotalPlayers()}
	p.hub.Broadcast(inst.Pin, RoomModerators, EventPlayerJoined, joined)
	p.hub.Broadcast(inst.Pin, RoomPanels, EventPlayerJoined, joined)

	p.pushState(inst, false)
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] player %d (%s) joined game %s", row.PlayerID, row.Name, inst.Pin)
}

// handleReconnectPlayer rebinds a returning player identified by their
// opaque token. Score and identity survive; a question already underway
// is re-sent so the client can re-render mid-round.
func (p *Protocol) handleReconnectPlayer(c *Client, data json.RawMessage) {
	var req reconnectPlayerPayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendEvent(EventReconnectError, errorPayload{Message: MsgBadPayload})
		return
	}
	if !token.ValidPin(req.GamePin) || req.PlayerToken == "" {
		c.sendEvent(EventReconnectError, errorPayload{Message: MsgInvalidSession})
		return
	}

	inst, err := p.registry.GetOrRestore(req.GamePin)
	if err != nil {
		c.sendEvent(EventReconnectError, errorPayload{Message: lookupErrMessage(err)})
		return
	}

	pl, ok := inst.PlayerByToken(req.PlayerToken)
	if !ok {
		c.sendEvent(EventReconnectError, errorPayload{Message: MsgInvalidSession})
		return
	}
	inst.Reconnect(pl.ID)
	p.queue.Enqueue(p.store.ReconnectPlayerOp(inst.GameID, pl.ID))

	p.releasePrevious(c, inst.Pin, pl.ID)
	if displaced := p.sessions.Bind(c.socketID, RolePlayer, inst.Pin, pl.ID); displaced != "" && displaced != c.socketID {
		p.hub.CloseSocket(displaced, "replaced by a new connection")
	}
	p.hub.JoinRoom(inst.Pin, RoomPlayers, c)

	c.sendEvent(EventPlayerReconnected, playerReconnectedPayload{
		GamePin:    inst.Pin,
		PlayerID:   pl.ID,
		PlayerName: pl.Name,
		Score:      pl.Score,
		GameStatus: inst.Phase().Status(),
	})

	if inst.Phase() == game.PhaseQuestionActive {
		if q, ok := inst.CurrentQuestion(); ok {
			c.sendEvent(EventQuestionStarted, questionPayloadFor(inst, q, p.now().UnixMilli()))
		}
	}

	p.pushState(inst, false)
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] player %d (%s) reconnected to game %s", pl.ID, pl.Name, inst.Pin)
}

// handleReconnectModerator authenticates a moderator by password or
// token and hands back the full game snapshot. Game creation already
// binds the creating socket, so this path serves page reloads and
// second screens.
func (p *Protocol) handleReconnectModerator(c *Client, data json.RawMessage) {
	var req reconnectModeratorPayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendEvent(EventModeratorReconnectError, errorPayload{Message: MsgBadPayload})
		return
	}
	if !token.ValidPin(req.GamePin) {
		c.sendEvent(EventModeratorReconnectError, errorPayload{Message: MsgInvalidPin})
		return
	}

	row, ok := p.store.ValidateModerator(req.GamePin, req.Password, req.ModeratorToken)
	if !ok {
		c.sendEvent(EventModeratorReconnectError, errorPayload{Message: MsgWrongCredentials})
		return
	}

	inst, err := p.registry.GetOrRestore(req.GamePin)
	if err != nil {
		c.sendEvent(EventModeratorReconnectError, errorPayload{Message: lookupErrMessage(err)})
		return
	}

	p.releasePrevious(c, inst.Pin, 0)
	p.sessions.Bind(c.socketID, RoleModerator, inst.Pin, 0)
	p.hub.JoinRoom(inst.Pin, RoomModerators, c)

	players := inst.Players()
	summaries := make([]playerSummary, len(players))
	for i, pl := range players {
		summaries[i] = playerSummary{
			PlayerID:  pl.ID,
			Name:      pl.Name,
			Score:     pl.Score,
			Connected: pl.Connected,
		}
	}

	c.sendEvent(EventModeratorReconnected, moderatorReconnectedPayload{
		GamePin:              inst.Pin,
		Status:               inst.Phase().Status(),
		Players:              summaries,
		TotalPlayers:         inst.TotalPlayers(),
		CurrentQuestionIndex: inst.QuestionIndex(),
		QuestionCount:        inst.QuestionCount(),
		ModeratorToken:       row.ModeratorToken,
	})

	if inst.Phase() == game.PhaseQuestionActive {
		if q, ok := inst.CurrentQuestion(); ok {
			dash := questionPayloadFor(inst, q, p.now().UnixMilli())
			dash.CorrectAnswer = &q.CorrectIndex
			c.sendEvent(EventQuestionStartedDash, dash)
		}
	}

	p.pushState(inst, true)
	log.Printf("[WS] moderator reconnected to game %s", inst.Pin)
}

// handleJoinPanel subscribes a display client. Panels carry no
// credential, only the PIN.
func (p *Protocol) handleJoinPanel(c *Client, data json.RawMessage) {
	var req joinGamePayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendEvent(EventPanelJoinError, errorPayload{Message: MsgBadPayload})
		return
	}
	if !token.ValidPin(req.GamePin) {
		c.sendEvent(EventPanelJoinError, errorPayload{Message: MsgInvalidPin})
		return
	}

	inst, err := p.registry.GetOrRestore(req.GamePin)
	if err != nil {
		c.sendEvent(EventPanelJoinError, errorPayload{Message: lookupErrMessage(err)})
		return
	}

	p.releasePrevious(c, inst.Pin, 0)
	p.sessions.Bind(c.socketID, RolePanel, inst.Pin, 0)
	p.hub.JoinRoom(inst.Pin, RoomPanels, c)

	c.sendEvent(EventPanelGameJoined, panelJoinedPayload{
		GamePin:       inst.Pin,
		QuestionCount: inst.QuestionCount(),
		GameStatus:    inst.Phase().Status(),
	})
	c.sendEvent(EventPanelLeaderboard, leaderboardPayload{Leaderboard: inst.TopN(p.cfg.PanelLeaderboardSize)})

	if inst.Phase() == game.PhaseQuestionActive {
		if q, ok := inst.CurrentQuestion(); ok {
			c.sendEvent(EventQuestionStarted, questionPayloadFor(inst, q, p.now().UnixMilli()))
		}
	}

	p.pushState(inst, true)
	log.Printf("[WS] panel joined game %s", inst.Pin)
}

// handleLeaveGame removes a player for good: row, score, token and any
// buffered answer for the running question.
func (p *Protocol) handleLeaveGame(c *Client, data json.RawMessage) {
	var req leaveGamePayload
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	inst, ok := p.registry.Lookup(req.GamePin)
	if !ok {
		return
	}
	pl, ok := inst.PlayerByToken(req.PlayerToken)
	if !ok {
		return
	}

	if _, ok := inst.Remove(pl.ID); !ok {
		return
	}
	p.queue.Enqueue(p.store.RemovePlayerOp(inst.GameID, pl.ID))

	if sock, ok := p.sessions.SocketForPlayer(inst.Pin, pl.ID); ok {
		p.sessions.Unbind(sock)
		if sock == c.socketID {
			p.hub.LeaveRooms(c)
		} else {
			p.hub.CloseSocket(sock, "left the game")
		}
	}

	left := playerEventPayload{PlayerName: pl.Name, TotalPlayers: inst.TotalPlayers()}
	p.hub.Broadcast(inst.Pin, RoomModerators, EventPlayerLeft, left)
	p.hub.Broadcast(inst.Pin, RoomPanels, EventPlayerLeft, left)

	p.pushState(inst, false)
	p.registry.SaveSnapshot(inst)
	log.Printf("[WS] player %d (%s) left game %s", pl.ID, pl.Name, inst.Pin)
}

// lookupErrMessage maps a registry lookup failure to the player-facing
// message.
func lookupErrMessage(err error) string {
	if errors.Is(err, game.ErrNoSuchGame) {
		return MsgGameNotFound
	}
	return MsgStoreFailed
}
