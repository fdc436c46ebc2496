package base

import "testing"

func TestPackUnpackPriorityScore(t *testing.T) {
	tests := []struct {
		priority, counter int64
	}{
		{1, 0},
		{1, 1},
		{5, 999},
		{100, 281474976710655}, // max 48-bit counter value
	}
	for _, tc := range tests {
		score := PackPriorityScore(tc.priority, tc.counter)
		if got := UnpackPriority(score); got != tc.priority {
			t.Errorf("UnpackPriority(PackPriorityScore(%d, %d)) = %d, want %d",
				tc.priority, tc.counter, got, tc.priority)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	// Lower priority number sorts first; within the same priority, earlier
	// counters sort first.
	low := PackPriorityScore(1, 0)
	high := PackPriorityScore(2, 0)
	if !(low < high) {
		t.Errorf("priority 1 (score %d) should sort before priority 2 (score %d)", low, high)
	}

	first := PackPriorityScore(1, 10)
	second := PackPriorityScore(1, 11)
	if !(first < second) {
		t.Errorf("counter 10 (score %d) should sort before counter 11 (score %d)", first, second)
	}
}

func TestPackUnpackDelayedScore(t *testing.T) {
	fireTime := int64(1700000000000)
	score := PackDelayedScore(fireTime, 7)
	if got := UnpackDelayedFireTime(score); got != fireTime {
		t.Errorf("UnpackDelayedFireTime(PackDelayedScore(%d, 7)) = %d, want %d", fireTime, got, fireTime)
	}
}

func TestDelayedOrderingByFireTime(t *testing.T) {
	earlier := PackDelayedScore(1000, 4095)
	later := PackDelayedScore(1001, 0)
	if !(earlier < later) {
		t.Errorf("an earlier fire time should sort first even with a larger counter")
	}
}
