// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_wav

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// wavHeader is a minimal decoded view of the 44-byte header, used to verify
// encoder output with an independent reader.
type wavHeader struct {
	riffSize   uint32
	format     uint16
	channels   uint16
	sampleRate uint32
	byteRate   uint32
	blockAlign uint16
	bitDepth   uint16
	dataSize   uint32
}

func decodeHeader(t *testing.T, wav []byte) wavHeader {
	t.Helper()
	if len(wav) < HeaderSize {
		t.Fatalf("wav too short: %d bytes", len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE tags")
	}
	if !bytes.Equal(wav[12:16], []byte("fmt ")) {
		t.Fatalf("missing fmt tag")
	}
	if got := binary.LittleEndian.Uint32(wav[16:20]); got != 16 {
		t.Fatalf("fmt chunk size = %d, want 16", got)
	}
	if !bytes.Equal(wav[36:40], []byte("data")) {
		t.Fatalf("missing data tag")
	}
	return wavHeader{
		riffSize:   binary.LittleEndian.Uint32(wav[4:8]),
		format:     binary.LittleEndian.Uint16(wav[20:22]),
		channels:   binary.LittleEndian.Uint16(wav[22:24]),
		sampleRate: binary.LittleEndian.Uint32(wav[24:28]),
		byteRate:   binary.LittleEndian.Uint32(wav[28:32]),
		blockAlign: binary.LittleEndian.Uint16(wav[32:34]),
		bitDepth:   binary.LittleEndian.Uint16(wav[34:36]),
		dataSize:   binary.LittleEndian.Uint32(wav[40:44]),
	}
}

func decodeSamples16(t *testing.T, wav []byte, channels int) [][]float64 {
	t.Helper()
	data := wav[HeaderSize:]
	frames := len(data) / 2 / channels
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			raw := int16(binary.LittleEndian.Uint16(data[(i*channels+ch)*2:]))
			if raw < 0 {
				out[ch][i] = float64(raw) / 32768
			} else {
				out[ch][i] = float64(raw) / 32767
			}
		}
	}
	return out
}

func TestEncodeHeaderFields(t *testing.T) {
	wav, err := Encode([][]float64{{0, 0.5, -0.5}, {1, -1, 0}}, 44100, 16)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	h := decodeHeader(t, wav)
	if h.format != PCMFormat {
		t.Errorf("format = %d, want %d", h.format, PCMFormat)
	}
	if h.channels != 2 {
		t.Errorf("channels = %d, want 2", h.channels)
	}
	if h.sampleRate != 44100 {
		t.Errorf("sampleRate = %d, want 44100", h.sampleRate)
	}
	if h.blockAlign != 4 {
		t.Errorf("blockAlign = %d, want 4", h.blockAlign)
	}
	if h.byteRate != 44100*4 {
		t.Errorf("byteRate = %d, want %d", h.byteRate, 44100*4)
	}
	if h.bitDepth != 16 {
		t.Errorf("bitDepth = %d, want 16", h.bitDepth)
	}
	if h.dataSize != 3*2*2 {
		t.Errorf("dataSize = %d, want 12", h.dataSize)
	}
	if h.riffSize != 36+h.dataSize {
		t.Errorf("riffSize = %d, want %d", h.riffSize, 36+h.dataSize)
	}
	if len(wav) != HeaderSize+int(h.dataSize) {
		t.Errorf("total length = %d, want %d", len(wav), HeaderSize+int(h.dataSize))
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	const rate = 8000
	frames := 64
	in := make([][]float64, 2)
	for ch := range in {
		in[ch] = make([]float64, frames)
		for i := range in[ch] {
			in[ch][i] = math.Sin(float64(i)/8 + float64(ch))
		}
	}

	wav, err := Encode(in, rate, 16)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	h := decodeHeader(t, wav)
	if int(h.channels) != 2 || int(h.sampleRate) != rate {
		t.Fatalf("header mismatch: %+v", h)
	}

	out := decodeSamples16(t, wav, 2)
	step := 1.0 / 32767
	for ch := range in {
		for i := range in[ch] {
			if diff := math.Abs(out[ch][i] - in[ch][i]); diff > step {
				t.Fatalf("ch%d[%d]: got %f want %f (diff %f > one step)", ch, i, out[ch][i], in[ch][i], diff)
			}
		}
	}
}

// Interleaving must be channel-minor: ch0[i], ch1[i] per frame. A swapped
// order silently produces garbled playback, so it is pinned byte-exactly.
func TestEncodeInterleavingOrder(t *testing.T) {
	wav, err := Encode([][]float64{{0.25, 0.5}, {-0.25, -0.5}}, 48000, 16)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	data := wav[HeaderSize:]
	want := []int16{
		8191, -8192, // frame 0: ch0 (0.25*32767 truncated), ch1 (-0.25*32768)
		16383, -16384, // frame 1
	}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeClampAndAsymmetricScale(t *testing.T) {
	wav, err := Encode([][]float64{{-2, -1, 1, 2}}, 48000, 16)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	data := wav[HeaderSize:]
	want := []int16{-32768, -32768, 32767, 32767}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeBitDepths(t *testing.T) {
	tests := []struct {
		bitDepth       int
		bytesPerSample int
	}{
		{8, 1},
		{16, 2},
		{24, 3},
		{32, 4},
	}
	for _, tt := range tests {
		wav, err := Encode([][]float64{{0, 1, -1}}, 16000, tt.bitDepth)
		if err != nil {
			t.Fatalf("encode %d-bit failed: %v", tt.bitDepth, err)
		}
		if want := HeaderSize + 3*tt.bytesPerSample; len(wav) != want {
			t.Errorf("%d-bit length = %d, want %d", tt.bitDepth, len(wav), want)
		}
	}

	if _, err := Encode([][]float64{{0}}, 16000, 12); err == nil {
		t.Error("expected error for unsupported bit depth")
	}
}

func TestEncodeValidation(t *testing.T) {
	if _, err := Encode(nil, 48000, 16); err == nil {
		t.Error("expected error for zero channels")
	}
	if _, err := Encode([][]float64{{0, 0}, {0}}, 48000, 16); err == nil {
		t.Error("expected error for mismatched channel lengths")
	}
	if _, err := Encode([][]float64{{0}}, 0, 16); err == nil {
		t.Error("expected error for invalid sample rate")
	}
}

func TestWrapPCM(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 1250) // 2500 bytes
	wav := WrapPCM(pcm, 48000, 1, 16)

	if len(wav) != HeaderSize+2500 {
		t.Fatalf("length = %d, want %d", len(wav), HeaderSize+2500)
	}
	h := decodeHeader(t, wav)
	if h.channels != 1 || h.sampleRate != 48000 || h.bitDepth != 16 {
		t.Errorf("header mismatch: %+v", h)
	}
	if h.dataSize != 2500 {
		t.Errorf("dataSize = %d, want 2500", h.dataSize)
	}
	if !bytes.Equal(wav[HeaderSize:], pcm) {
		t.Error("payload was altered")
	}
}
