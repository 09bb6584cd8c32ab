package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/playback"
	"github.com/voiceloop-ai/voiceloop/internal/stt"
)

type fakeSource struct {
	fragments chan stt.Fragment
	ended     chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		fragments: make(chan stt.Fragment, 16),
		ended:     make(chan error, 4),
	}
}

func (f *fakeSource) Start() error                   { return nil }
func (f *fakeSource) SendAudio(pcm []byte) error     { return nil }
func (f *fakeSource) Fragments() <-chan stt.Fragment { return f.fragments }
func (f *fakeSource) Ended() <-chan error            { return f.ended }
func (f *fakeSource) Stop() error                    { return nil }
func (f *fakeSource) Close() error                   { return nil }

type fakeResponder struct {
	reply string
}

func (f *fakeResponder) Respond(ctx context.Context, text string, onChunk func(string)) (string, error) {
	if onChunk != nil {
		onChunk(f.reply)
	}
	return f.reply, nil
}

func (f *fakeResponder) Reset() {}

type fakeSynth struct{}

func (fakeSynth) Name() string { return "fake" }

func (fakeSynth) Synthesize(ctx context.Context, text string) (<-chan playback.Chunk, error) {
	ch := make(chan playback.Chunk, 1)
	ch <- playback.Chunk{Data: []byte{1, 2, 3, 4}}
	close(ch)
	return ch, nil
}

func testGatewayConfig() *config.Config {
	return &config.Config{
		RecognitionEnabled:   true,
		ContinuousListening:  true,
		WakeWord:             "jarvis",
		WakeWordSensitivity:  "medium",
		SynthesisEnabled:     true,
		AutoReadResponses:    true,
		AudioSampleRate:      16000,
		IdleGraceMs:          10,
		SpeakingGuardMs:      50,
		PostSpeechCooldownMs: 10,
		RestartDelayMs:       10,
		InterruptMinChars:    3,
		ResponderTimeout:     5,
	}
}

func dialTestSession(t *testing.T, deps SessionDeps) *websocket.Conn {
	t.Helper()
	cfg := testGatewayConfig()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		vs := NewVoiceSession(conn, cfg, "test-session", zerolog.Nop(), deps)
		defer vs.Close()
		go vs.writeLoop()
		vs.engine.Start()
		vs.readLoop()
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial test session: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads outbound messages until pred matches one, returning every
// message seen along the way.
func readUntil(t *testing.T, conn *websocket.Conn, what string, pred func(serverMessage) bool) []serverMessage {
	t.Helper()
	var seen []serverMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("timed out waiting for %s; saw %v (%v)", what, seen, err)
		}
		seen = append(seen, msg)
		if pred(msg) {
			return seen
		}
	}
}

func TestSessionPhaseFlowOverWebSocket(t *testing.T) {
	deps := SessionDeps{
		Source:    newFakeSource(),
		Responder: &fakeResponder{reply: "hello back"},
		Primary:   fakeSynth{},
	}
	conn := dialTestSession(t, deps)

	readUntil(t, conn, "listening phase", func(m serverMessage) bool {
		return m.Type == "phase" && m.Phase == "listening"
	})

	if err := conn.WriteJSON(clientMessage{Type: "text", Text: "hi there"}); err != nil {
		t.Fatalf("Failed to send text message: %v", err)
	}

	var sawTranscript, sawAssistant, sawAudio bool
	seen := readUntil(t, conn, "return to listening after the turn", func(m serverMessage) bool {
		switch m.Type {
		case "transcript":
			if m.Text == "hi there" && m.IsFinal {
				sawTranscript = true
			}
		case "assistant_text":
			if m.Text == "hello back" {
				sawAssistant = true
			}
		case "audio":
			if m.Audio != "" {
				sawAudio = true
			}
		}
		return m.Type == "phase" && m.Phase == "listening" && sawAudio
	})

	if !sawTranscript {
		t.Errorf("Expected the typed utterance echoed as a final transcript, saw %v", seen)
	}
	if !sawAssistant {
		t.Errorf("Expected streamed assistant text, saw %v", seen)
	}

	var phases []string
	for _, m := range seen {
		if m.Type == "phase" {
			phases = append(phases, m.Phase)
		}
	}
	want := []string{"thinking", "speaking", "listening"}
	if len(phases) != len(want) {
		t.Fatalf("Expected phases %v after the utterance, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("Expected phase %q at step %d, got %q", want[i], i, phases[i])
		}
	}
}

func TestStopMessageGoesIdle(t *testing.T) {
	deps := SessionDeps{
		Source:    newFakeSource(),
		Responder: &fakeResponder{reply: "ok"},
		Primary:   fakeSynth{},
	}
	conn := dialTestSession(t, deps)

	readUntil(t, conn, "listening phase", func(m serverMessage) bool {
		return m.Type == "phase" && m.Phase == "listening"
	})

	if err := conn.WriteJSON(clientMessage{Type: "stop"}); err != nil {
		t.Fatalf("Failed to send stop: %v", err)
	}
	readUntil(t, conn, "idle phase", func(m serverMessage) bool {
		return m.Type == "phase" && m.Phase == "idle"
	})
}

func TestMalformedMessageYieldsError(t *testing.T) {
	deps := SessionDeps{
		Source:    newFakeSource(),
		Responder: &fakeResponder{reply: "ok"},
		Primary:   fakeSynth{},
	}
	conn := dialTestSession(t, deps)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to send raw message: %v", err)
	}
	readUntil(t, conn, "error message", func(m serverMessage) bool {
		return m.Type == "error"
	})
}

func TestAudioMessageRejectsBadBase64(t *testing.T) {
	deps := SessionDeps{
		Source:    newFakeSource(),
		Responder: &fakeResponder{reply: "ok"},
		Primary:   fakeSynth{},
	}
	conn := dialTestSession(t, deps)

	if err := conn.WriteJSON(clientMessage{Type: "audio", Audio: "%%%"}); err != nil {
		t.Fatalf("Failed to send audio message: %v", err)
	}
	readUntil(t, conn, "error message", func(m serverMessage) bool {
		return m.Type == "error" && m.Message == "malformed audio payload"
	})
}
