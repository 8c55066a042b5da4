package game

import "testing"

func TestCalculateScore(t *testing.T) {
	cases := []struct {
		name     string
		correct  bool
		rtMs     int64
		limitSec int
		want     int
	}{
		{"wrong answer scores zero", false, 100, 30, 0},
		{"instant answer gets full bonus", true, 0, 30, 1500},
		{"5s of 30s limit", true, 5000, 30, 1417},
		{"half the limit", true, 15000, 30, 1250},
		{"at the limit earns base only", true, 30000, 30, 1000},
		{"past the limit earns base only", true, 45000, 30, 1000},
		{"negative response time counts as zero", true, -250, 30, 1500},
		{"short limit", true, 1000, 10, 1450},
		{"wrong answer past limit still zero", false, 45000, 30, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := CalculateScore(c.correct, c.rtMs, c.limitSec)
			if got != c.want {
				t.Errorf("CalculateScore(%v, %d, %d) = %d, want %d", c.correct, c.rtMs, c.limitSec, got, c.want)
			}
		})
	}
}

func TestCalculateScoreMonotonicInResponseTime(t *testing.T) {
	prev := CalculateScore(true, 0, 30)
	for rt := int64(1000); rt <= 35000; rt += 1000 {
		got := CalculateScore(true, rt, 30)
		if got > prev {
			t.Fatalf("score increased with slower answer: rt=%d score=%d prev=%d", rt, got, prev)
		}
		prev = got
	}
}
