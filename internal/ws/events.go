package ws

// Client → server event names.
const (
	EventCreateGame         = "create_game"
	EventJoinGame           = "join_game"
	EventReconnectPlayer    = "reconnect_player"
	EventReconnectModerator = "reconnect_moderator"
	EventJoinPanel          = "join_panel"
	EventStartQuestion      = "start_question"
	EventEndQuestion        = "end_question"
	EventNextQuestion       = "next_question"
	EventEndGame            = "end_game"
	EventResetGame          = "reset_game"
	EventSubmitAnswer       = "submit_answer"
	EventLeaveGame          = "leave_game"
	EventLatencyPong        = "latency_pong"
)

// Server → client event names.
const (
	EventGameCreated             = "game_created"
	EventCreateGameError         = "create_game_error"
	EventGameJoined              = "game_joined"
	EventJoinError               = "join_error"
	EventPlayerReconnected       = "player_reconnected"
	EventReconnectError          = "reconnect_error"
	EventModeratorReconnected    = "moderator_reconnected"
	EventModeratorReconnectError = "moderator_reconnect_error"
	EventPanelGameJoined         = "panel_game_joined"
	EventPanelJoinError          = "panel_join_error"
	EventQuestionStarted         = "question_started"
	EventQuestionStartedDash     = "question_started_dashboard"
	EventQuestionEnded           = "question_ended"
	EventQuestionEndedDash       = "question_ended_dashboard"
	EventPlayerJoined            = "player_joined"
	EventPlayerLeft              = "player_left"
	EventLiveStats               = "live_stats"
	EventPanelLeaderboard        = "panel_leaderboard_update"
	EventGameStateUpdate         = "game_state_update"
	EventAnswerResult            = "answer_result"
	EventGameEndedDash           = "game_ended_dashboard"
	EventPanelGameEnded          = "panel_game_ended"
	EventLatencyPing             = "latency_ping"
	EventConnectionRejected      = "connection_rejected"
	EventError                   = "error"
)

// Player-visible messages. The frontend renders these verbatim, so they
// are Slovak at the source.
const (
	MsgGameNotFound     = "Hra nebola nájdená"
	MsgGameFull         = "Hra je plná"
	MsgGameFinished     = "Hra už skončila"
	MsgInvalidPin       = "Neplatný PIN"
	MsgPinTaken         = "PIN je už obsadený"
	MsgNoQuestions      = "Kategória neobsahuje žiadne otázky"
	MsgWrongCredentials = "Nesprávne heslo alebo token"
	MsgInvalidSession   = "Neplatná relácia, pripojte sa znova"
	MsgNotModerator     = "Na túto akciu nemáte oprávnenie"
	MsgInvalidAnswer    = "Neplatná odpoveď"
	MsgQuestionRunning  = "Otázka už beží"
	MsgNoActiveQuestion = "Žiadna otázka nie je aktívna"
	MsgNotInResults     = "Najprv ukončite aktuálnu otázku"
	MsgGameNotFinished  = "Hru je možné reštartovať až po jej skončení"
	MsgGameReset        = "Hra bola reštartovaná"
	MsgBadPayload       = "Neplatná požiadavka"
	MsgServerFull       = "Server je preťažený, skúste to neskôr"
	MsgStoreFailed      = "Uloženie zlyhalo, skúste to neskôr"
	MsgInternal         = "Niečo sa pokazilo, skúste to znova"
)
