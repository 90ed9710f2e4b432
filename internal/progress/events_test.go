package progress

import (
	"testing"

	"github.com/timmy/gradeflow/internal/domain"
)

func TestEventBusSinceAndTrim(t *testing.T) {
	bus := NewEventBus(3)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventStep, State: domain.InitialProgressState()})
	}

	all := bus.Since(0)
	if len(all) != 3 {
		t.Fatalf("buffered = %d, want 3", len(all))
	}
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Errorf("seqs = %d..%d, want 3..5", all[0].Seq, all[2].Seq)
	}
	if got := bus.Since(4); len(got) != 1 || got[0].Seq != 5 {
		t.Errorf("Since(4) = %+v", got)
	}
	if bus.LastSeq() != 5 {
		t.Errorf("LastSeq = %d", bus.LastSeq())
	}
	if all[0].Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}
