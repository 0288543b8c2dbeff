package observability

import "testing"

func TestTurnPhaseWindowSnapshot(t *testing.T) {
	w := newTurnPhaseWindow(8)
	w.Observe("ai_response", 500)
	w.Observe("ai_response", 700)
	w.Observe("ai_response", 900)
	w.Observe("persisting", 40)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Phases) != 2 {
		t.Fatalf("len(Phases) = %d, want 2", len(snap.Phases))
	}
	s := snap.Phases[0]
	if s.Phase != "ai_response" {
		t.Fatalf("Phase = %q, want %q", s.Phase, "ai_response")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
}

func TestTurnPhaseWindowWrapsAround(t *testing.T) {
	w := newTurnPhaseWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("ai_response", float64(100*i))
	}
	snap := w.Snapshot()
	if len(snap.Phases) != 1 {
		t.Fatalf("len(Phases) = %d, want 1", len(snap.Phases))
	}
	if snap.Phases[0].Samples != 4 {
		t.Fatalf("Samples = %d, want window size 4", snap.Phases[0].Samples)
	}
	if snap.Phases[0].LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", snap.Phases[0].LastMS)
	}
}
