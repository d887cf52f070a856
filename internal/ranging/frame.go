// Package ranging decodes the TF-Luna serial lidar and turns its readings
// into autopilot sensor snapshots.
package ranging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSize is the length of one TF-Luna data frame:
//
//	0x59 0x59 distL distH strengthL strengthH tempL tempH checksum
const FrameSize = 9

const header = 0x59

var (
	ErrShortFrame = errors.New("short lidar frame")
	ErrBadHeader  = errors.New("bad lidar frame header")
	ErrChecksum   = errors.New("lidar frame checksum mismatch")
)

// Reliability limits from the TF-Luna datasheet.
const (
	MinStrength     = 100
	MaxStrength     = 65535
	MaxDistanceCm   = 1200
	temperatureBias = 256
)

// Frame is one decoded reading.
type Frame struct {
	DistanceCm  uint16  `json:"distance_cm"`
	Strength    uint16  `json:"strength"`
	Temperature float64 `json:"temperature_c"`
}

// Reliable reports whether the sensor vouches for the distance. Weak or
// saturated returns and out-of-range distances are not.
func (f Frame) Reliable() bool {
	return f.Strength >= MinStrength && f.Strength != MaxStrength && f.DistanceCm <= MaxDistanceCm
}

// Distance returns the distance in centimetres, or +Inf when the reading is
// unreliable, which the autopilot treats as nothing in range.
func (f Frame) Distance() float64 {
	if !f.Reliable() {
		return math.Inf(1)
	}
	return float64(f.DistanceCm)
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b[:FrameSize-1] {
		sum += v
	}
	return sum
}

// DecodeFrame parses exactly one frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if b[0] != header || b[1] != header {
		return Frame{}, fmt.Errorf("%w: % x", ErrBadHeader, b[:2])
	}
	if got, want := b[FrameSize-1], checksum(b); got != want {
		return Frame{}, fmt.Errorf("%w: got %#02x want %#02x", ErrChecksum, got, want)
	}
	raw := binary.LittleEndian.Uint16(b[6:8])
	return Frame{
		DistanceCm:  binary.LittleEndian.Uint16(b[2:4]),
		Strength:    binary.LittleEndian.Uint16(b[4:6]),
		Temperature: float64(raw)/8 - temperatureBias,
	}, nil
}

// EncodeFrame is the inverse of DecodeFrame, used by the simulator and tests.
func EncodeFrame(f Frame) []byte {
	b := make([]byte, FrameSize)
	b[0], b[1] = header, header
	binary.LittleEndian.PutUint16(b[2:4], f.DistanceCm)
	binary.LittleEndian.PutUint16(b[4:6], f.Strength)
	binary.LittleEndian.PutUint16(b[6:8], uint16(math.Round((f.Temperature+temperatureBias)*8)))
	b[8] = checksum(b)
	return b
}

// ScanFrames is a bufio.SplitFunc yielding header-aligned frames. A frame
// whose checksum does not match is still yielded so the consumer can count
// it, but the scanner only advances past its first byte: the header may have
// been a stray pair of 0x59 bytes ahead of the real frame.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, []byte{header, header})
	if start < 0 {
		// Keep a trailing header byte; it may start the next frame.
		if atEOF || len(data) == 0 || data[len(data)-1] != header {
			return len(data), nil, nil
		}
		return len(data) - 1, nil, nil
	}
	if len(data)-start < FrameSize {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	frame := data[start : start+FrameSize]
	if frame[FrameSize-1] != checksum(frame) {
		return start + 1, frame, nil
	}
	return start + FrameSize, frame, nil
}
