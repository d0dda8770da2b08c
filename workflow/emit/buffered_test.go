package emit

import (
	"sync"
	"testing"
)

func TestBufferedEmitter_History(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "run-1", Step: 1, NodeID: "start", Msg: "node started"})
	b.Emit(Event{RunID: "run-1", Step: 2, NodeID: "llm", Msg: "node started"})
	b.Emit(Event{RunID: "run-2", Step: 1, NodeID: "start", Msg: "node started"})

	if got := b.History("run-1"); len(got) != 2 {
		t.Errorf("run-1 history = %d events, want 2", len(got))
	}
	if got := b.History("run-2"); len(got) != 1 {
		t.Errorf("run-2 history = %d events, want 1", len(got))
	}
	if got := b.History("ghost"); len(got) != 0 {
		t.Errorf("ghost history = %d events, want 0", len(got))
	}
}

func TestBufferedEmitter_HistoryWithFilter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "run-1", Step: 1, NodeID: "start", Msg: "node started"})
	b.Emit(Event{RunID: "run-1", Step: 1, NodeID: "start", Msg: "node succeeded"})
	b.Emit(Event{RunID: "run-1", Step: 2, NodeID: "llm", Msg: "node started"})
	b.Emit(Event{RunID: "run-1", Step: 3, NodeID: "llm", Msg: "node retry"})

	t.Run("by node", func(t *testing.T) {
		got := b.HistoryWithFilter("run-1", HistoryFilter{NodeID: "llm"})
		if len(got) != 2 {
			t.Errorf("filtered = %d events, want 2", len(got))
		}
	})

	t.Run("by msg", func(t *testing.T) {
		got := b.HistoryWithFilter("run-1", HistoryFilter{Msg: "node started"})
		if len(got) != 2 {
			t.Errorf("filtered = %d events, want 2", len(got))
		}
	})

	t.Run("by step range", func(t *testing.T) {
		min, max := 2, 3
		got := b.HistoryWithFilter("run-1", HistoryFilter{MinStep: &min, MaxStep: &max})
		if len(got) != 2 {
			t.Errorf("filtered = %d events, want 2", len(got))
		}
	})

	t.Run("combined", func(t *testing.T) {
		got := b.HistoryWithFilter("run-1", HistoryFilter{NodeID: "llm", Msg: "node retry"})
		if len(got) != 1 || got[0].Step != 3 {
			t.Errorf("filtered = %v", got)
		}
	})
}

func TestBufferedEmitter_Clear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "run-1", Msg: "workflow started"})
	b.Emit(Event{RunID: "run-2", Msg: "workflow started"})

	b.Clear("run-1")
	if len(b.History("run-1")) != 0 {
		t.Error("run-1 not cleared")
	}
	if len(b.History("run-2")) != 1 {
		t.Error("run-2 cleared by mistake")
	}

	b.Clear("")
	if len(b.History("run-2")) != 0 {
		t.Error("clear-all left events behind")
	}
}

func TestBufferedEmitter_Concurrent(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Emit(Event{RunID: "run-1", Msg: "node started"})
			}
		}()
	}
	wg.Wait()

	if got := len(b.History("run-1")); got != 1000 {
		t.Errorf("history = %d events, want 1000", got)
	}
}
