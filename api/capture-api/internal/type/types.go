// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import (
	"io"
	"time"
)

// Container identifies the audio container a finished recording is tagged with.
type Container string

const (
	ContainerWAV  Container = "wav"
	ContainerWebM Container = "webm"
	ContainerOGG  Container = "ogg"
	ContainerMP3  Container = "mp3"
)

// MimeType returns the MIME type advertised for the container.
func (c Container) MimeType() string {
	switch c {
	case ContainerWebM:
		return "audio/webm"
	case ContainerOGG:
		return "audio/ogg"
	case ContainerMP3:
		return "audio/mpeg"
	default:
		return "audio/wav"
	}
}

// ChannelMode selects mono or stereo capture.
type ChannelMode string

const (
	ChannelModeMono   ChannelMode = "mono"
	ChannelModeStereo ChannelMode = "stereo"
)

// Channels returns the channel count for the mode. Unknown modes count as
// stereo, matching the capture default.
func (m ChannelMode) Channels() int {
	if m == ChannelModeMono {
		return 1
	}
	return 2
}

// FormatPreference is the per-session output configuration. It is supplied by
// the preference store and read once at encode time; the recording session
// never mutates it.
type FormatPreference struct {
	Container   Container   `json:"container"`
	SampleRate  int         `json:"sampleRate"`
	ChannelMode ChannelMode `json:"channelMode"`
	BitDepth    int         `json:"bitDepth"`
	Normalize   bool        `json:"normalize"`
	UseTabTitle bool        `json:"useTabTitle"`
}

// DefaultFormatPreference mirrors the defaults the preference UI seeds.
func DefaultFormatPreference() FormatPreference {
	return FormatPreference{
		Container:   ContainerWAV,
		SampleRate:  48000,
		ChannelMode: ChannelModeStereo,
		BitDepth:    16,
	}
}

// CaptureHandle is the credential for one negotiated exclusive stream on a
// host surface. The host enforces at most one live token per surface, so a
// handle is never shared across sessions.
type CaptureHandle struct {
	SurfaceID   int       `json:"surfaceId"`
	StreamToken string    `json:"streamToken"`
	AcquiredAt  time.Time `json:"acquiredAt"`
}

// AudioSource is the live byte stream behind a capture handle.
type AudioSource interface {
	io.ReadCloser
}

// EncodedAudio is the finalized recording artifact. Produced once per
// stop-and-collect; ownership transfers to the caller.
type EncodedAudio struct {
	Data     []byte
	MimeType string
	// FallbackApplied is set when the preferred container was not supported
	// by the recorder and the output degraded to WAV instead.
	FallbackApplied bool
}
