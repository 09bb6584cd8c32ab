package transcript

import "testing"

func TestAggregator_EmitsOnlyOnFinal(t *testing.T) {
	a := NewAggregator()

	if u := a.OnFragment("hel", false); u != nil {
		t.Error("Expected no utterance for interim fragment")
	}
	if u := a.OnFragment("hello", false); u != nil {
		t.Error("Expected no utterance for interim fragment")
	}
	if a.Pending() != "hello" {
		t.Errorf("Expected pending 'hello', got '%s'", a.Pending())
	}

	u := a.OnFragment("hello jarvis", true)
	if u == nil {
		t.Fatal("Expected utterance on final fragment")
	}
	if u.Text != "hello jarvis" {
		t.Errorf("Expected text 'hello jarvis', got '%s'", u.Text)
	}
	if !u.IsFinal {
		t.Error("Expected emitted utterance to be final")
	}
	if u.CapturedAt.IsZero() {
		t.Error("Expected CapturedAt to be set")
	}
}

func TestAggregator_ResetsAfterEmission(t *testing.T) {
	a := NewAggregator()

	a.OnFragment("first part", false)
	a.OnFragment("first utterance", true)

	if a.Pending() != "" {
		t.Errorf("Expected empty pending after emission, got '%s'", a.Pending())
	}
}

func TestAggregator_SkipsEmptyFinals(t *testing.T) {
	a := NewAggregator()

	if u := a.OnFragment("", true); u != nil {
		t.Error("Expected no utterance for empty final")
	}
	if u := a.OnFragment("   \t ", true); u != nil {
		t.Error("Expected no utterance for whitespace-only final")
	}
}

func TestAggregator_TrimsFinalText(t *testing.T) {
	a := NewAggregator()

	u := a.OnFragment("  turn off the lights  ", true)
	if u == nil {
		t.Fatal("Expected utterance")
	}
	if u.Text != "turn off the lights" {
		t.Errorf("Expected trimmed text, got '%s'", u.Text)
	}
}

func TestAggregator_ExplicitReset(t *testing.T) {
	a := NewAggregator()

	a.OnFragment("half a sen", false)
	a.Reset()

	if a.Pending() != "" {
		t.Error("Expected empty pending after explicit reset")
	}
}
