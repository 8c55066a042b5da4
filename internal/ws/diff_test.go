package ws

import (
	"reflect"
	"testing"
)

func TestDiffFirstBroadcastIsFull(t *testing.T) {
	c := NewStateCache()
	blob := map[string]interface{}{"status": "waiting", "questionNumber": 1}

	got := c.Diff("123456", RoomPlayers, blob, false)
	if !reflect.DeepEqual(got, blob) {
		t.Fatalf("first diff = %v, want full blob", got)
	}
}

func TestDiffOnlyChangedFields(t *testing.T) {
	c := NewStateCache()
	c.Diff("123456", RoomPlayers, map[string]interface{}{
		"status":         "waiting",
		"questionNumber": 1,
		"totalQuestions": 5,
	}, false)

	got := c.Diff("123456", RoomPlayers, map[string]interface{}{
		"status":         "question_active",
		"questionNumber": 1,
		"totalQuestions": 5,
	}, false)

	want := map[string]interface{}{"status": "question_active"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("diff = %v, want %v", got, want)
	}
}

func TestDiffUnchangedBlobSendsNothing(t *testing.T) {
	c := NewStateCache()
	blob := map[string]interface{}{"status": "waiting", "questionNumber": 1}
	c.Diff("123456", RoomPlayers, blob, false)

	same := map[string]interface{}{"status": "waiting", "questionNumber": 1}
	if got := c.Diff("123456", RoomPlayers, same, false); got != nil {
		t.Fatalf("diff of identical blob = %v, want nil", got)
	}
}

func TestDiffRemovedFieldIsExplicitNil(t *testing.T) {
	c := NewStateCache()
	c.Diff("123456", RoomPlayers, map[string]interface{}{
		"status":        "question_active",
		"timeRemaining": 30,
	}, false)

	got := c.Diff("123456", RoomPlayers, map[string]interface{}{
		"status": "results",
	}, false)

	want := map[string]interface{}{"status": "results", "timeRemaining": nil}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("diff = %v, want %v", got, want)
	}
}

func TestDiffForceBypassesComparison(t *testing.T) {
	c := NewStateCache()
	blob := map[string]interface{}{"status": "waiting"}
	c.Diff("123456", RoomPlayers, blob, false)

	got := c.Diff("123456", RoomPlayers, map[string]interface{}{"status": "waiting"}, true)
	if got == nil || got["status"] != "waiting" {
		t.Fatalf("forced diff = %v, want full blob", got)
	}

	// The forced blob becomes the next baseline.
	next := c.Diff("123456", RoomPlayers, map[string]interface{}{"status": "results"}, false)
	if !reflect.DeepEqual(next, map[string]interface{}{"status": "results"}) {
		t.Fatalf("diff after force = %v", next)
	}
}

func TestDiffRoomsAreIndependent(t *testing.T) {
	c := NewStateCache()
	c.Diff("123456", RoomPlayers, map[string]interface{}{"status": "waiting"}, false)

	// Same PIN, different room: still the first broadcast.
	got := c.Diff("123456", RoomModerators, map[string]interface{}{"status": "waiting", "connectedCount": 3}, false)
	if len(got) != 2 {
		t.Fatalf("moderator first diff = %v, want full blob", got)
	}
}

func TestDiffForgetResetsBaseline(t *testing.T) {
	c := NewStateCache()
	blob := map[string]interface{}{"status": "waiting"}
	c.Diff("123456", RoomPlayers, blob, false)

	c.Forget("123456")
	if got := c.Diff("123456", RoomPlayers, blob, false); got == nil {
		t.Fatal("diff after Forget = nil, want full blob")
	}
}

func TestDiffNestedValueChange(t *testing.T) {
	c := NewStateCache()
	c.Diff("123456", RoomPanels, map[string]interface{}{
		"leaderboard": []int{10, 5},
		"status":      "results",
	}, false)

	got := c.Diff("123456", RoomPanels, map[string]interface{}{
		"leaderboard": []int{12, 5},
		"status":      "results",
	}, false)

	if len(got) != 1 || !reflect.DeepEqual(got["leaderboard"], []int{12, 5}) {
		t.Fatalf("diff = %v, want changed leaderboard only", got)
	}
}
