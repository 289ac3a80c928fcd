// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

const (
	sampleRate    = 16000
	bitsPerSample = 16
	wavHeaderSize = 44

	toneMin       = 120 * time.Millisecond
	tonePerWord   = 90 * time.Millisecond
	toneMax       = 3 * time.Second
	toneAmplitude = 0.25
)

// toneFrequency maps a voice id to a stable pitch between 220 and 660 Hz.
func toneFrequency(voiceID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(voiceID))
	return 220 + float64(h.Sum32()%441)
}

// toneDuration scales with the number of words spoken.
func toneDuration(text string) time.Duration {
	d := toneMin + time.Duration(len(strings.Fields(text)))*tonePerWord
	if d > toneMax {
		d = toneMax
	}
	return d
}

// synthesizeTone renders a mono 16-bit PCM WAV standing in for speech.
func synthesizeTone(text, voiceID string) []byte {
	samples := int(toneDuration(text).Seconds() * sampleRate)
	freq := toneFrequency(voiceID)
	dataSize := samples * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + dataSize)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))

	// Short linear fade at both ends avoids clicks.
	fade := sampleRate / 100
	for i := 0; i < samples; i++ {
		gain := toneAmplitude
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if rem := samples - i; rem < fade {
			gain *= float64(rem) / float64(fade)
		}
		v := gain * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
		binary.Write(&buf, binary.LittleEndian, int16(v*math.MaxInt16))
	}
	return buf.Bytes()
}
