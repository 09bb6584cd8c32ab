package responder

import "context"

// Responder produces an assistant reply for a finished user utterance. It
// keeps the running conversation history so follow-up turns have context.
type Responder interface {
	// Respond generates a reply to userText, invoking onChunk for each text
	// chunk as it streams in. It returns the full reply once the stream
	// finishes. A cancelled context aborts the stream.
	Respond(ctx context.Context, userText string, onChunk func(text string)) (string, error)

	// Reset clears the conversation history.
	Reset()
}
