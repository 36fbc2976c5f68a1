// Package stt defines the contract for speech-to-text providers feeding the
// local speech channel.
package stt

import "context"

// Callback receives recognition results from a provider.
type Callback interface {
	// OnPartial is called with each interim hypothesis for the current utterance.
	OnPartial(text string)

	// OnFinal is called once with the settled text of the current utterance.
	OnFinal(text string, confidence float64)

	// OnEndOfUtterance is called when the provider detects the speaker stopped.
	OnEndOfUtterance()

	// OnError is called when recognition fails.
	OnError(err error)
}

// Adapter is implemented by STT providers.
type Adapter interface {
	// Start opens a streaming recognition session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards raw audio to the provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}
