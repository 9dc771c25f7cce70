package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device.
//
// Writes are non-blocking: TryWrite either hands the frame to the device
// layer or rejects it outright. A rejected frame was never written; the
// caller decides whether to queue it. When a previously saturated sink can
// accept audio again it fires the OnDrain callback.
type Sink interface {
	// Start begins audio playback.
	// After calling Start, audio can be written via TryWrite.
	Start(ctx context.Context) error

	// Stop halts audio playback.
	// It is safe to call Stop multiple times.
	Stop() error

	// TryWrite offers a PCM16 frame to the output device.
	// It returns (true, nil) when the frame was accepted, (false, nil)
	// when the device buffer is saturated and the frame was not taken,
	// and (false, err) on a device write failure.
	TryWrite(frame []byte) (bool, error)

	// OnDrain registers a callback fired when a saturated sink becomes
	// writable again.
	OnDrain(fn func())

	// OnError registers a callback for asynchronous device errors.
	OnError(fn func(err error))

	// Clear discards audio buffered inside the device layer immediately.
	// Use this to interrupt playback (e.g., when the user speaks).
	Clear() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the sink cannot be restarted.
	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// FramesAccepted is the total number of frames accepted by TryWrite.
	FramesAccepted int64 `json:"frames_accepted"`

	// FramesRejected is the total number of frames rejected by TryWrite.
	FramesRejected int64 `json:"frames_rejected"`

	// SamplesWritten is the total number of samples written.
	SamplesWritten int64 `json:"samples_written"`

	// Underruns is the number of buffer underruns (audio gaps).
	Underruns int64 `json:"underruns"`

	// Running indicates if the sink is currently playing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`

	// BufferedSamples is the number of samples currently buffered.
	BufferedSamples int64 `json:"buffered_samples"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
