package audio

import "testing"

func TestEnvelopeHistory_PushAndRecent(t *testing.T) {
	h := NewEnvelopeHistory(3)

	h.Push(Envelope{1})
	h.Push(Envelope{2})

	recent := h.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("Expected 2 envelopes, got %d", len(recent))
	}
	if recent[0][0] != 1 || recent[1][0] != 2 {
		t.Error("Expected envelopes in oldest-first order")
	}
}

func TestEnvelopeHistory_EvictsOldest(t *testing.T) {
	h := NewEnvelopeHistory(3)

	for i := 1; i <= 5; i++ {
		h.Push(Envelope{float64(i)})
	}

	if h.Len() != 3 {
		t.Fatalf("Expected length 3, got %d", h.Len())
	}

	recent := h.Recent(3)
	if recent[0][0] != 3 || recent[2][0] != 5 {
		t.Errorf("Expected envelopes 3..5, got %v..%v", recent[0][0], recent[2][0])
	}
}

func TestEnvelopeHistory_Clear(t *testing.T) {
	h := NewEnvelopeHistory(4)
	h.Push(Envelope{1})
	h.Clear()

	if h.Len() != 0 {
		t.Errorf("Expected empty history after clear, got %d", h.Len())
	}
	if h.Recent(1) != nil {
		t.Error("Expected nil Recent() after clear")
	}
}
