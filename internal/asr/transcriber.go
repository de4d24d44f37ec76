// Package asr provides streaming speech recognition for live call audio.
package asr

import "context"

// Event is one recognizer result. Non-final events carry in-progress text;
// a final event closes out one recognized fragment. Recognizer failures are
// delivered as events so a bad stream never tears down the call.
type Event struct {
	Text    string
	IsFinal bool
	Err     error
}

// Transcriber opens realtime recognition sessions.
type Transcriber interface {
	Start(ctx context.Context) (Session, error)
}

// Session is one live recognition stream. Audio goes in via Write in the
// telephony encoding (mu-law 8 kHz); results come back on Events.
type Session interface {
	Write(audio []byte) error
	Events() <-chan Event
	Close() error
}
