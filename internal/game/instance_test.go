package game

import (
	"errors"
	"testing"
	"time"
)

func testQuestions(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{
			ID:           100 + i,
			OrderIndex:   i,
			Text:         "q",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
			TimeLimit:    30,
		}
	}
	return qs
}

func testInstance(nQuestions, maxPlayers, maxAnswers int) *Instance {
	return New(1, "123456", "vseobecne", testQuestions(nQuestions), maxPlayers, maxAnswers)
}

func mustJoin(t *testing.T, g *Instance, id int, name string) {
	t.Helper()
	if err := g.Join(Player{ID: id, Name: name, JoinedAt: time.Unix(int64(1000+id), 0)}); err != nil {
		t.Fatalf("join player %d: %v", id, err)
	}
}

func TestPhaseTransitions(t *testing.T) {
	g := testInstance(2, 10, 100)

	if g.Phase() != PhaseWaiting {
		t.Fatalf("new instance phase = %v, want waiting", g.Phase())
	}

	// Illegal edges from WAITING.
	if _, err := g.EndQuestion(); !errors.Is(err, ErrNotActive) {
		t.Errorf("EndQuestion from waiting: err = %v, want ErrNotActive", err)
	}
	if _, err := g.Advance(); !errors.Is(err, ErrNotResults) {
		t.Errorf("Advance from waiting: err = %v, want ErrNotResults", err)
	}
	if err := g.Reset(); !errors.Is(err, ErrNotFinished) {
		t.Errorf("Reset from waiting: err = %v, want ErrNotFinished", err)
	}

	if _, err := g.StartQuestion(time.Now()); err != nil {
		t.Fatalf("StartQuestion: %v", err)
	}
	if g.Phase() != PhaseQuestionActive {
		t.Fatalf("phase after start = %v, want question_active", g.Phase())
	}

	// Double start is rejected.
	if _, err := g.StartQuestion(time.Now()); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("second StartQuestion: err = %v, want ErrNotWaiting", err)
	}

	res, err := g.EndQuestion()
	if err != nil {
		t.Fatalf("EndQuestion: %v", err)
	}
	if g.Phase() != PhaseResults {
		t.Fatalf("phase after end = %v, want results", g.Phase())
	}
	if !res.CanContinue {
		t.Errorf("CanContinue = false with one question left")
	}

	more, err := g.Advance()
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !more || g.Phase() != PhaseWaiting || g.QuestionIndex() != 1 {
		t.Fatalf("after advance: more=%v phase=%v index=%d, want true/waiting/1", more, g.Phase(), g.QuestionIndex())
	}

	if _, err := g.StartQuestion(time.Now()); err != nil {
		t.Fatalf("StartQuestion q2: %v", err)
	}
	if _, err := g.EndQuestion(); err != nil {
		t.Fatalf("EndQuestion q2: %v", err)
	}
	more, err = g.Advance()
	if err != nil {
		t.Fatalf("Advance past last: %v", err)
	}
	if more || g.Phase() != PhaseFinished {
		t.Fatalf("after final advance: more=%v phase=%v, want false/finished", more, g.Phase())
	}

	if err := g.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if g.Phase() != PhaseWaiting || g.QuestionIndex() != 0 {
		t.Fatalf("after reset: phase=%v index=%d, want waiting/0", g.Phase(), g.QuestionIndex())
	}
}

func TestFinishFromAnyPhase(t *testing.T) {
	for _, setup := range []string{"waiting", "active", "results"} {
		g := testInstance(2, 10, 100)
		if setup != "waiting" {
			g.StartQuestion(time.Now())
		}
		if setup == "results" {
			g.EndQuestion()
		}
		g.Finish()
		if g.Phase() != PhaseFinished {
			t.Errorf("Finish from %s: phase = %v, want finished", setup, g.Phase())
		}
	}
}

func TestSubmitAndLeaderboard(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")
	mustJoin(t, g, 2, "Boris")

	start := time.UnixMilli(1_000_000)
	if _, err := g.StartQuestion(start); err != nil {
		t.Fatalf("StartQuestion: %v", err)
	}

	// Correct answer 5s into a 30s question: 1000 + 500*(1 - 5/30) = 1417.
	out, err := g.SubmitAnswer(1, 0, start.UnixMilli()+5000, 0)
	if err != nil {
		t.Fatalf("submit correct: %v", err)
	}
	if !out.Correct || out.Points != 1417 || out.TotalScore != 1417 {
		t.Errorf("correct submit: correct=%v points=%d total=%d, want true/1417/1417", out.Correct, out.Points, out.TotalScore)
	}
	if out.AnsweredCount != 1 {
		t.Errorf("AnsweredCount = %d, want 1", out.AnsweredCount)
	}

	// Wrong answer scores zero no matter how fast.
	out, err = g.SubmitAnswer(2, 1, start.UnixMilli()+100, 0)
	if err != nil {
		t.Fatalf("submit wrong: %v", err)
	}
	if out.Correct || out.Points != 0 {
		t.Errorf("wrong submit: correct=%v points=%d, want false/0", out.Correct, out.Points)
	}

	lb := g.Leaderboard()
	if len(lb) != 2 {
		t.Fatalf("leaderboard size = %d, want 2", len(lb))
	}
	if lb[0].Position != 1 || lb[0].Name != "Anna" || lb[0].Score != 1417 {
		t.Errorf("lb[0] = %+v, want position 1 Anna 1417", lb[0])
	}
	if lb[1].Position != 2 || lb[1].Name != "Boris" || lb[1].Score != 0 {
		t.Errorf("lb[1] = %+v, want position 2 Boris 0", lb[1])
	}
}

func TestDuplicateAnswerRejected(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)

	if _, err := g.SubmitAnswer(1, 0, start.UnixMilli()+1000, 0); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	p, _ := g.Player(1)
	scoreAfterFirst := p.Score

	if _, err := g.SubmitAnswer(1, 2, start.UnixMilli()+2000, 0); !errors.Is(err, ErrDuplicateAnswer) {
		t.Fatalf("second submit: err = %v, want ErrDuplicateAnswer", err)
	}
	p, _ = g.Player(1)
	if p.Score != scoreAfterFirst {
		t.Errorf("score changed on duplicate: %d -> %d", scoreAfterFirst, p.Score)
	}
	if g.TotalAnswers() != 1 {
		t.Errorf("TotalAnswers = %d, want 1", g.TotalAnswers())
	}
}

func TestSubmitPreconditions(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")

	if _, err := g.SubmitAnswer(1, 0, time.Now().UnixMilli(), 0); !errors.Is(err, ErrNotActive) {
		t.Errorf("submit before start: err = %v, want ErrNotActive", err)
	}

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)

	if _, err := g.SubmitAnswer(99, 0, start.UnixMilli()+1000, 0); !errors.Is(err, ErrUnknownPlayer) {
		t.Errorf("submit by stranger: err = %v, want ErrUnknownPlayer", err)
	}
	if _, err := g.SubmitAnswer(1, 7, start.UnixMilli()+1000, 0); !errors.Is(err, ErrBadOption) {
		t.Errorf("submit option 7: err = %v, want ErrBadOption", err)
	}

	g.EndQuestion()
	if _, err := g.SubmitAnswer(1, 0, start.UnixMilli()+1000, 0); !errors.Is(err, ErrNotActive) {
		t.Errorf("submit after end: err = %v, want ErrNotActive", err)
	}
}

func TestLatencyCompensation(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)

	// 6s wall clock minus 1s estimated latency: scored as 5s.
	out, err := g.SubmitAnswer(1, 0, start.UnixMilli()+6000, 1000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.ResponseTimeMs != 5000 || out.Points != 1417 {
		t.Errorf("rt=%d points=%d, want 5000/1417", out.ResponseTimeMs, out.Points)
	}
}

func TestLatencyClampNeverNegative(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)

	// Latency estimate larger than elapsed time clamps to zero.
	out, err := g.SubmitAnswer(1, 0, start.UnixMilli()+100, 5000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.ResponseTimeMs != 0 || out.Points != 1500 {
		t.Errorf("rt=%d points=%d, want 0/1500", out.ResponseTimeMs, out.Points)
	}
}

func TestAnswerBufferBound(t *testing.T) {
	g := testInstance(1, 10, 3)
	for i := 1; i <= 5; i++ {
		mustJoin(t, g, i, "")
	}

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)

	for i := 1; i <= 5; i++ {
		if _, err := g.SubmitAnswer(i, 0, start.UnixMilli()+int64(i)*100, 0); err != nil {
			t.Fatalf("submit player %d: %v", i, err)
		}
	}

	if got := g.AnswerBufferLen(); got != 3 {
		t.Errorf("buffer len = %d, want 3", got)
	}
	if got := g.TotalAnswers(); got != 5 {
		t.Errorf("TotalAnswers = %d, want 5", got)
	}
	stats := g.MemoryStats()
	if stats.DroppedFromBuffer != 2 {
		t.Errorf("dropped = %d, want 2", stats.DroppedFromBuffer)
	}

	// Eviction keeps duplicate detection intact for evicted players.
	if _, err := g.SubmitAnswer(1, 1, start.UnixMilli()+900, 0); !errors.Is(err, ErrDuplicateAnswer) {
		t.Errorf("evicted player resubmit: err = %v, want ErrDuplicateAnswer", err)
	}

	res, err := g.EndQuestion()
	if err != nil {
		t.Fatalf("EndQuestion: %v", err)
	}
	if res.AnsweredCount != 5 {
		t.Errorf("AnsweredCount = %d, want 5", res.AnsweredCount)
	}
	if res.TotalAnswers != 5 {
		t.Errorf("TotalAnswers = %d, want 5", res.TotalAnswers)
	}
	sum := 0
	for _, c := range res.AnswerCounts {
		sum += c
	}
	if sum != 3 {
		t.Errorf("buffered counts sum = %d, want 3", sum)
	}
}

func TestLeaderboardTiesAndPositions(t *testing.T) {
	g := testInstance(1, 10, 100)
	// Same score for everyone: order must follow join order.
	for i := 1; i <= 4; i++ {
		mustJoin(t, g, i, "")
	}

	lb := g.Leaderboard()
	if len(lb) != 4 {
		t.Fatalf("leaderboard size = %d, want 4", len(lb))
	}
	seen := make(map[int]bool)
	for i, e := range lb {
		if e.Position != i+1 {
			t.Errorf("lb[%d].Position = %d, want %d", i, e.Position, i+1)
		}
		if seen[e.PlayerID] {
			t.Errorf("player %d appears twice", e.PlayerID)
		}
		seen[e.PlayerID] = true
		if i > 0 && lb[i-1].PlayerID > e.PlayerID {
			t.Errorf("tie order broken: %d before %d", lb[i-1].PlayerID, e.PlayerID)
		}
	}
}

func TestLeaderboardIncludesDisconnected(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")
	mustJoin(t, g, 2, "Boris")
	g.Disconnect(2)

	lb := g.Leaderboard()
	if len(lb) != 2 {
		t.Fatalf("leaderboard size = %d, want 2", len(lb))
	}
	var found bool
	for _, e := range lb {
		if e.PlayerID == 2 {
			found = true
			if e.Connected {
				t.Errorf("disconnected player shown as connected")
			}
		}
	}
	if !found {
		t.Errorf("disconnected player missing from leaderboard")
	}
}

func TestReconnectKeepsScore(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)
	g.SubmitAnswer(1, 0, start.UnixMilli()+5000, 0)

	g.Disconnect(1)
	p, ok := g.Reconnect(1)
	if !ok {
		t.Fatalf("reconnect failed")
	}
	if !p.Connected || p.Score != 1417 {
		t.Errorf("after reconnect: connected=%v score=%d, want true/1417", p.Connected, p.Score)
	}
}

func TestCapacityCountsOnlyConnected(t *testing.T) {
	g := testInstance(1, 2, 100)
	mustJoin(t, g, 1, "")
	mustJoin(t, g, 2, "")

	if err := g.Join(Player{ID: 3}); !errors.Is(err, ErrCapacity) {
		t.Fatalf("third join: err = %v, want ErrCapacity", err)
	}

	// A disconnected seat frees capacity.
	g.Disconnect(2)
	if err := g.Join(Player{ID: 3}); err != nil {
		t.Fatalf("join after disconnect: %v", err)
	}
	if g.TotalPlayers() != 3 {
		t.Errorf("TotalPlayers = %d, want 3", g.TotalPlayers())
	}
}

func TestJoinFinishedGameRejected(t *testing.T) {
	g := testInstance(1, 10, 100)
	g.Finish()
	if err := g.Join(Player{ID: 1}); !errors.Is(err, ErrGameFinished) {
		t.Errorf("join finished game: err = %v, want ErrGameFinished", err)
	}
}

func TestRejoinRefreshesExisting(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)
	g.SubmitAnswer(1, 0, start.UnixMilli()+5000, 0)
	g.Disconnect(1)

	// Joining again with the same id must not reset the score.
	if err := g.Join(Player{ID: 1, Name: "Anna"}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	p, _ := g.Player(1)
	if p.Score != 1417 || !p.Connected {
		t.Errorf("after rejoin: score=%d connected=%v, want 1417/true", p.Score, p.Connected)
	}
	if g.TotalPlayers() != 1 {
		t.Errorf("TotalPlayers = %d, want 1", g.TotalPlayers())
	}
}

func TestRemovePurgesBufferedAnswers(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")
	mustJoin(t, g, 2, "Boris")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)
	g.SubmitAnswer(1, 0, start.UnixMilli()+1000, 0)
	g.SubmitAnswer(2, 1, start.UnixMilli()+2000, 0)

	removed, ok := g.Remove(1)
	if !ok || removed.Name != "Anna" {
		t.Fatalf("remove: ok=%v name=%q", ok, removed.Name)
	}

	answered, counts := g.LiveStats()
	if answered != 1 {
		t.Errorf("answered after remove = %d, want 1", answered)
	}
	if counts[0] != 0 || counts[1] != 1 {
		t.Errorf("counts after remove = %v, want [0 1 0 0]", counts)
	}
	if g.TotalPlayers() != 1 {
		t.Errorf("TotalPlayers = %d, want 1", g.TotalPlayers())
	}
}

func TestResetClearsScores(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)
	g.SubmitAnswer(1, 0, start.UnixMilli()+5000, 0)
	g.EndQuestion()
	g.Advance() // single question, so this finishes the game

	if g.Phase() != PhaseFinished {
		t.Fatalf("phase = %v, want finished", g.Phase())
	}
	if err := g.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	p, _ := g.Player(1)
	if p.Score != 0 {
		t.Errorf("score after reset = %d, want 0", p.Score)
	}
	if g.Phase() != PhaseWaiting || g.QuestionIndex() != 0 {
		t.Errorf("after reset: phase=%v index=%d, want waiting/0", g.Phase(), g.QuestionIndex())
	}
}

func TestEndQuestionAtGuardsIndex(t *testing.T) {
	g := testInstance(2, 10, 100)
	g.StartQuestion(time.Now())
	g.EndQuestion()
	g.Advance()
	g.StartQuestion(time.Now())

	// A timer armed for question 0 must not end question 1.
	if _, err := g.EndQuestionAt(0); !errors.Is(err, ErrNotActive) {
		t.Errorf("stale EndQuestionAt: err = %v, want ErrNotActive", err)
	}
	if g.Phase() != PhaseQuestionActive {
		t.Errorf("phase = %v, want question_active", g.Phase())
	}

	if _, err := g.EndQuestionAt(1); err != nil {
		t.Errorf("current EndQuestionAt: %v", err)
	}
}

func TestSweepDisconnected(t *testing.T) {
	g := testInstance(1, 10, 100)
	mustJoin(t, g, 1, "Anna")
	mustJoin(t, g, 2, "Boris")
	mustJoin(t, g, 3, "Cyril")

	g.Disconnect(2)
	g.Disconnect(3)

	// Age player 2 past the TTL by rewinding LastSeen directly.
	g.mu.Lock()
	g.players[2].LastSeen = time.Now().Add(-20 * time.Minute)
	g.mu.Unlock()

	removed := g.SweepDisconnected(10*time.Minute, time.Now())
	if len(removed) != 1 || removed[0].ID != 2 {
		t.Fatalf("removed = %+v, want just player 2", removed)
	}
	if g.TotalPlayers() != 2 {
		t.Errorf("TotalPlayers = %d, want 2", g.TotalPlayers())
	}
	if _, ok := g.Player(3); !ok {
		t.Errorf("recently disconnected player was swept")
	}
}

func TestAdvanceResetsAnswerState(t *testing.T) {
	g := testInstance(2, 10, 100)
	mustJoin(t, g, 1, "Anna")

	start := time.UnixMilli(1_000_000)
	g.StartQuestion(start)
	g.SubmitAnswer(1, 0, start.UnixMilli()+1000, 0)
	g.EndQuestion()
	g.Advance()
	g.StartQuestion(start.Add(time.Minute))

	// Fresh question, so the same player may answer again.
	if _, err := g.SubmitAnswer(1, 0, start.UnixMilli()+61000, 0); err != nil {
		t.Errorf("submit on next question: %v", err)
	}
	if g.TotalAnswers() != 1 {
		t.Errorf("TotalAnswers = %d, want 1", g.TotalAnswers())
	}
}

func TestStateBlob(t *testing.T) {
	g := testInstance(3, 10, 100)
	blob := g.StateBlob()
	if blob["status"] != "waiting" {
		t.Errorf("status = %v, want waiting", blob["status"])
	}
	if blob["currentQuestionIndex"] != 0 || blob["questionNumber"] != 1 || blob["totalQuestions"] != 3 {
		t.Errorf("blob = %v", blob)
	}
	if _, ok := blob["questionStartTime"]; ok {
		t.Errorf("questionStartTime present while waiting")
	}

	g.StartQuestion(time.UnixMilli(5_000_000))
	blob = g.StateBlob()
	if blob["status"] != "question_active" {
		t.Errorf("status = %v, want question_active", blob["status"])
	}
	if blob["questionStartTime"] != int64(5_000_000) {
		t.Errorf("questionStartTime = %v, want 5000000", blob["questionStartTime"])
	}
}
