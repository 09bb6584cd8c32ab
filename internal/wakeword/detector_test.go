package wakeword

import (
	"math"
	"testing"
)

func TestDetector_ActivatesOnFinalFragmentOnly(t *testing.T) {
	d := New("jarvis", SensitivityMedium)

	// Interim fragments are never evaluated, even when they contain the phrase.
	fragments := []struct {
		text  string
		final bool
	}{
		{"hel", false},
		{"hello", false},
		{"hello jarvis", false},
	}
	for _, f := range fragments {
		if c := d.Evaluate(f.text, 0.8, f.final); c != nil {
			t.Fatalf("Expected no activation on interim fragment %q", f.text)
		}
	}

	c := d.Evaluate("hello jarvis", 0.8, true)
	if c == nil {
		t.Fatal("Expected activation on final fragment")
	}
	if c.MatchedPhrase != "jarvis" {
		t.Errorf("Expected matched phrase 'jarvis', got '%s'", c.MatchedPhrase)
	}
	if c.SourceTranscript != "hello jarvis" {
		t.Errorf("Expected source transcript 'hello jarvis', got '%s'", c.SourceTranscript)
	}

	// Disarmed: the same utterance must not fire twice.
	if c := d.Evaluate("hello jarvis", 0.8, true); c != nil {
		t.Error("Expected no second activation while disarmed")
	}
}

func TestDetector_CaseInsensitive(t *testing.T) {
	d := New("Jarvis", SensitivityMedium)

	if c := d.Evaluate("HELLO JARVIS", 0.9, true); c == nil {
		t.Error("Expected case-insensitive match")
	}
}

func TestDetector_ConfidenceThresholds(t *testing.T) {
	tests := []struct {
		sensitivity Sensitivity
		confidence  float64
		want        bool
	}{
		{SensitivityLow, 0.79, false},
		{SensitivityLow, 0.8, true},
		{SensitivityMedium, 0.59, false},
		{SensitivityMedium, 0.6, true},
		{SensitivityHigh, 0.39, false},
		{SensitivityHigh, 0.4, true},
	}

	for _, tt := range tests {
		d := New("jarvis", tt.sensitivity)
		got := d.Evaluate("hey jarvis", tt.confidence, true) != nil
		if got != tt.want {
			t.Errorf("sensitivity=%s confidence=%.2f: expected activation=%v, got %v",
				tt.sensitivity, tt.confidence, tt.want, got)
		}
	}
}

func TestDetector_AbsentConfidenceDefaultsPermissive(t *testing.T) {
	// Sources without confidence scores report NaN or a negative value;
	// both fall back to 0.7, which passes at medium sensitivity.
	d := New("jarvis", SensitivityMedium)
	if c := d.Evaluate("hey jarvis", math.NaN(), true); c == nil {
		t.Error("Expected NaN confidence to fall back to the permissive default")
	}

	d = New("jarvis", SensitivityMedium)
	c := d.Evaluate("hey jarvis", -1, true)
	if c == nil {
		t.Fatal("Expected negative confidence to fall back to the permissive default")
	}
	if c.Confidence != 0.7 {
		t.Errorf("Expected fallback confidence 0.7, got %f", c.Confidence)
	}

	// The fallback still fails a stricter threshold.
	d = New("jarvis", SensitivityLow)
	if c := d.Evaluate("hey jarvis", math.NaN(), true); c != nil {
		t.Error("Expected fallback confidence to fail low sensitivity")
	}
}

func TestDetector_Rearm(t *testing.T) {
	d := New("jarvis", SensitivityMedium)

	if d.Evaluate("jarvis", 0.9, true) == nil {
		t.Fatal("Expected first activation")
	}
	if d.Armed() {
		t.Error("Expected detector disarmed after activation")
	}

	d.Rearm()
	if !d.Armed() {
		t.Error("Expected detector armed after Rearm")
	}
	if d.Evaluate("jarvis again", 0.9, true) == nil {
		t.Error("Expected activation after rearm")
	}
}

func TestDetector_NoMatchWithoutPhrase(t *testing.T) {
	d := New("jarvis", SensitivityMedium)
	if c := d.Evaluate("hello there", 0.9, true); c != nil {
		t.Error("Expected no activation without the phrase present")
	}

	d = New("", SensitivityMedium)
	if c := d.Evaluate("anything at all", 0.9, true); c != nil {
		t.Error("Expected no activation with an empty configured phrase")
	}
}
