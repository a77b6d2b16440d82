// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// PCMFormat is the WAV fmt-chunk format tag for uncompressed PCM.
	PCMFormat = 1
	// HeaderSize is the fixed RIFF/WAVE + fmt + data header length.
	HeaderSize = 44
)

// Encode renders per-channel float samples into a complete WAV byte stream.
// samples is one slice per channel; every channel must have the same frame
// count. Output is channel-minor interleaved: for frame i the byte stream
// carries ch0[i], ch1[i], … chN-1[i] before frame i+1 starts. Supported bit
// depths: 8 (unsigned), 16, 24 and 32 (signed little-endian).
func Encode(samples [][]float64, sampleRate, bitDepth int) ([]byte, error) {
	channels := len(samples)
	if channels == 0 {
		return nil, fmt.Errorf("no channels to encode")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	frames := len(samples[0])
	for ch := 1; ch < channels; ch++ {
		if len(samples[ch]) != frames {
			return nil, fmt.Errorf("channel %d has %d frames, channel 0 has %d", ch, len(samples[ch]), frames)
		}
	}

	bytesPerSample, err := sampleWidth(bitDepth)
	if err != nil {
		return nil, err
	}

	dataSize := frames * channels * bytesPerSample
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+dataSize))
	writeHeader(buf, dataSize, sampleRate, channels, bitDepth)

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			writeSample(buf, samples[ch][i], bitDepth)
		}
	}
	return buf.Bytes(), nil
}

// WrapPCM prepends a WAV header to already-interleaved little-endian PCM
// bytes. Used on the stop path when the recorder delivered raw PCM chunks.
func WrapPCM(pcm []byte, sampleRate, channels, bitDepth int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	writeHeader(buf, len(pcm), sampleRate, channels, bitDepth)
	buf.Write(pcm)
	return buf.Bytes()
}

func sampleWidth(bitDepth int) (int, error) {
	switch bitDepth {
	case 8, 16, 24, 32:
		return bitDepth / 8, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}

func writeHeader(buf *bytes.Buffer, dataSize, sampleRate, channels, bitDepth int) {
	bytesPerSample := bitDepth / 8
	blockAlign := channels * bytesPerSample
	byteRate := sampleRate * blockAlign

	buf.Write([]byte("RIFF"))
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(PCMFormat))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitDepth))

	buf.Write([]byte("data"))
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
}

// writeSample quantizes one float sample. The input is clamped to [-1, 1] and
// scaled asymmetrically: negatives by the negative full-scale magnitude,
// positives by the positive one (two's-complement ranges are asymmetric, e.g.
// [-32768, 32767] at 16-bit).
func writeSample(buf *bytes.Buffer, v float64, bitDepth int) {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}

	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned with a 128 midpoint.
		var q int
		if v < 0 {
			q = int(v * 128)
		} else {
			q = int(v * 127)
		}
		buf.WriteByte(byte(q + 128))
	case 16:
		var q int16
		if v < 0 {
			q = int16(v * 32768)
		} else {
			q = int16(v * 32767)
		}
		binary.Write(buf, binary.LittleEndian, q)
	case 24:
		var q int32
		if v < 0 {
			q = int32(v * 8388608)
		} else {
			q = int32(v * 8388607)
		}
		buf.WriteByte(byte(q))
		buf.WriteByte(byte(q >> 8))
		buf.WriteByte(byte(q >> 16))
	case 32:
		var q int32
		if v < 0 {
			q = int32(v * 2147483648)
		} else {
			q = int32(v * 2147483647)
		}
		binary.Write(buf, binary.LittleEndian, q)
	}
}
