package stt

import "errors"

// ErrNoSpeech indicates the recognition stream ended because the upstream
// heard nothing, not because anything failed. Streams that end this way are
// always restarted while recognition stays enabled.
var ErrNoSpeech = errors.New("recognition ended without speech")

// Fragment is one recognition hypothesis. Interim fragments revise each other
// until a final fragment settles the utterance.
type Fragment struct {
	Text       string
	Confidence float64
	IsFinal    bool
	StartTime  float64
	Duration   float64
}

// Source is a streaming speech recognition session.
type Source interface {
	// Start opens the recognition stream. It is an error to start a stream
	// that is already active.
	Start() error

	// SendAudio forwards a chunk of PCM audio to the recognizer.
	SendAudio(pcm []byte) error

	// Fragments returns the channel recognition hypotheses arrive on.
	Fragments() <-chan Fragment

	// Ended receives one value when the stream stops on its own: ErrNoSpeech
	// for silence shutdowns, another error otherwise. Nothing is sent for an
	// explicit Stop.
	Ended() <-chan error

	// Stop closes the recognition stream.
	Stop() error

	// Close releases the source. The Fragments channel is closed shortly
	// after.
	Close() error
}
