package executor

import (
	"testing"
	"time"
)

func TestRampingSteps(t *testing.T) {
	stages := []Stage{
		{Duration: 10 * time.Second, Target: 5},
		{Duration: 10 * time.Second, Target: 5},
		{Duration: 5 * time.Second, Target: 0},
	}
	steps := rampingSteps(0, stages)

	// start + 5 up + 5 down
	if len(steps) != 11 {
		t.Fatalf("len(steps) = %d, want 11: %v", len(steps), steps)
	}

	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 0},
		{1999 * time.Millisecond, 0},
		{2 * time.Second, 1},
		{9999 * time.Millisecond, 4},
		{10 * time.Second, 5},
		{15 * time.Second, 5},
		{20 * time.Second, 5},
		{21 * time.Second, 4},
		{24999 * time.Millisecond, 1},
		{25 * time.Second, 0},
		{time.Minute, 0},
	}
	for _, tt := range tests {
		if got := vusAt(steps, tt.at); got != tt.want {
			t.Errorf("vusAt(%v) = %d, want %d", tt.at, got, tt.want)
		}
	}
}

func TestRampingSteps_UnevenDivisionHitsBoundary(t *testing.T) {
	// 10s / 3 does not divide evenly; the last step must still land on 10s
	steps := rampingSteps(0, []Stage{{Duration: 10 * time.Second, Target: 3}})

	last := steps[len(steps)-1]
	if last.offset != 10*time.Second || last.vus != 3 {
		t.Errorf("last step = %+v, want {10s 3}", last)
	}
	if got := vusAt(steps, 10*time.Second-time.Nanosecond); got != 2 {
		t.Errorf("vusAt(10s-1ns) = %d, want 2", got)
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].offset < steps[i-1].offset {
			t.Errorf("steps not ordered: %v", steps)
		}
	}
}

func TestRampingSteps_StartVUsAndRampDown(t *testing.T) {
	steps := rampingSteps(2, []Stage{{Duration: 3 * time.Second, Target: 0}})

	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 2},
		{1499 * time.Millisecond, 2},
		{1500 * time.Millisecond, 1},
		{3 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := vusAt(steps, tt.at); got != tt.want {
			t.Errorf("vusAt(%v) = %d, want %d", tt.at, got, tt.want)
		}
	}
}

func TestRampingSteps_ZeroDurationStageJumps(t *testing.T) {
	steps := rampingSteps(0, []Stage{
		{Duration: 0, Target: 3},
		{Duration: time.Second, Target: 3},
	})

	if got := vusAt(steps, 0); got != 3 {
		t.Errorf("vusAt(0) = %d, want 3", got)
	}
	if got := vusAt(steps, time.Second); got != 3 {
		t.Errorf("vusAt(1s) = %d, want 3", got)
	}
}

func TestRampingVUsParams_MaxVUs(t *testing.T) {
	p := RampingVUsParams{
		StartVUs: 2,
		Stages: []Stage{
			{Duration: time.Second, Target: 7},
			{Duration: time.Second, Target: 3},
		},
	}
	if got := p.maxVUs(); got != 7 {
		t.Errorf("maxVUs() = %d, want 7", got)
	}
	if got := p.totalDuration(); got != 2*time.Second {
		t.Errorf("totalDuration() = %v, want 2s", got)
	}
}
