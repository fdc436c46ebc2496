package base

import "testing"

func TestQueueKeyPrefix(t *testing.T) {
	got := QueueKeyPrefix("critical")
	want := "q:{critical}:"
	if got != want {
		t.Errorf("QueueKeyPrefix(%q) = %q, want %q", "critical", got, want)
	}
}

func TestKeyBuilders(t *testing.T) {
	qname := "emails"
	prefix := QueueKeyPrefix(qname)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"WaitKey", WaitKey(qname), prefix + "wait"},
		{"PausedKey", PausedKey(qname), prefix + "paused"},
		{"PrioritizedKey", PrioritizedKey(qname), prefix + "prioritized"},
		{"DelayedKey", DelayedKey(qname), prefix + "delayed"},
		{"ActiveKey", ActiveKey(qname), prefix + "active"},
		{"WaitingChildrenKey", WaitingChildrenKey(qname), prefix + "waiting-children"},
		{"CompletedKey", CompletedKey(qname), prefix + "completed"},
		{"FailedKey", FailedKey(qname), prefix + "failed"},
		{"MetaKey", MetaKey(qname), prefix + "meta"},
		{"EventsKey", EventsKey(qname), prefix + "events"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestJobKeyAndAuxKeys(t *testing.T) {
	jobKey := JobKey("emails", "42")
	if want := "q:{emails}:j:42"; jobKey != want {
		t.Fatalf("JobKey = %q, want %q", jobKey, want)
	}
	if got, want := LockKey(jobKey), jobKey+":lock"; got != want {
		t.Errorf("LockKey = %q, want %q", got, want)
	}
	if got, want := DependenciesKey(jobKey), jobKey+":dependencies"; got != want {
		t.Errorf("DependenciesKey = %q, want %q", got, want)
	}
	if got, want := ProcessedKey(jobKey), jobKey+":processed"; got != want {
		t.Errorf("ProcessedKey = %q, want %q", got, want)
	}
}

func TestMarkerDiscipline(t *testing.T) {
	if !IsMarker("0:1234") {
		t.Error("expected 0:1234 to be a marker")
	}
	if !IsMarker(PriorityMarker) {
		t.Error("expected the priority marker to be a marker")
	}
	if IsMarker("1234") {
		t.Error("did not expect a plain job id to be a marker")
	}

	got := DelayMarker(1700000000000)
	if want := "0:1700000000000"; got != want {
		t.Errorf("DelayMarker = %q, want %q", got, want)
	}

	ms, ok := MarkerFireTime(got)
	if !ok || ms != 1700000000000 {
		t.Errorf("MarkerFireTime(%q) = (%d, %v), want (1700000000000, true)", got, ms, ok)
	}

	if _, ok := MarkerFireTime(PriorityMarker); ok {
		t.Error("the priority marker should not parse as a delay marker")
	}
	if _, ok := MarkerFireTime("not-a-marker"); ok {
		t.Error("a non-marker id should not parse as a delay marker")
	}
}

func TestKeepJobsKeep(t *testing.T) {
	var nilKeep *KeepJobs
	if nilKeep.Keep() {
		t.Error("nil KeepJobs should not keep")
	}
	if (&KeepJobs{Count: 0}).Keep() {
		t.Error("KeepJobs{Count: 0} should not keep")
	}
	if !(&KeepJobs{Count: 100}).Keep() {
		t.Error("KeepJobs{Count: 100} should keep")
	}
}
