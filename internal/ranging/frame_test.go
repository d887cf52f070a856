package ranging

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/serialmux"
	"github.com/banshee-data/rover/internal/timeutil"
)

func TestDecodeFrame(t *testing.T) {
	// 300cm, strength 1000, 25°C.
	raw := []byte{0x59, 0x59, 0x2c, 0x01, 0xe8, 0x03, 0xc8, 0x08, 0}
	raw[8] = checksum(raw)

	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, Frame{DistanceCm: 300, Strength: 1000, Temperature: 25}, f)
	assert.Equal(t, raw, EncodeFrame(f))
	assert.Equal(t, 300.0, f.Distance())

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", raw[:5], ErrShortFrame},
		{"header", append([]byte{0x58}, raw[1:]...), ErrBadHeader},
		{"checksum", append(append([]byte{}, raw[:8]...), raw[8]+1), ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFrame_Reliable(t *testing.T) {
	tests := []struct {
		f    Frame
		want float64
	}{
		{Frame{DistanceCm: 80, Strength: 500}, 80},
		{Frame{DistanceCm: 80, Strength: 99}, math.Inf(1)},
		{Frame{DistanceCm: 80, Strength: MaxStrength}, math.Inf(1)},
		{Frame{DistanceCm: 1300, Strength: 500}, math.Inf(1)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.f.Distance(), "%+v", tt.f)
	}
}

func TestScanFrames_Resyncs(t *testing.T) {
	good1 := EncodeFrame(Frame{DistanceCm: 120, Strength: 900, Temperature: 30})
	good2 := EncodeFrame(Frame{DistanceCm: 45, Strength: 900, Temperature: 30})
	bad := EncodeFrame(Frame{DistanceCm: 77, Strength: 900, Temperature: 30})
	bad[8]++

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x13, 0x59})
	stream.Write(good1)
	stream.Write(bad)
	stream.Write([]byte{0xff})
	stream.Write(good2)
	stream.Write(good1[:4])

	scan := bufio.NewScanner(&stream)
	scan.Split(ScanFrames)
	var (
		got    []uint16
		failed int
	)
	for scan.Scan() {
		f, err := DecodeFrame(scan.Bytes())
		if err != nil {
			assert.ErrorIs(t, err, ErrChecksum)
			failed++
			continue
		}
		got = append(got, f.DistanceCm)
	}
	require.NoError(t, scan.Err())
	assert.Equal(t, []uint16{120, 45}, got)
	// The stray 0x59 ahead of good1 and the corrupted frame.
	assert.Equal(t, 2, failed)
}

func TestSource_CountsCorruptFramesFromStream(t *testing.T) {
	bad := EncodeFrame(Frame{DistanceCm: 77, Strength: 900, Temperature: 30})
	bad[8] ^= 0xff
	good := EncodeFrame(Frame{DistanceCm: 210, Strength: 900, Temperature: 30})

	var stream bytes.Buffer
	stream.Write(bad)
	stream.Write([]byte{0x00, 0x42})
	stream.Write(good)

	src := NewSource(1, 0, nil)
	scan := bufio.NewScanner(&stream)
	scan.Split(ScanFrames)
	for scan.Scan() {
		_ = src.HandleFrame(scan.Bytes())
	}
	require.NoError(t, scan.Err())

	stats := src.Stats()
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, 210.0, src.Distance())
}

func TestSource_MedianAndStaleness(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	src := NewSource(3, 200*time.Millisecond, clock)
	assert.True(t, math.IsNaN(src.Distance()))

	for _, d := range []uint16{100, 20, 90, 95} {
		require.NoError(t, src.HandleFrame(EncodeFrame(Frame{DistanceCm: d, Strength: 800})))
	}
	// Window holds 20, 90, 95.
	assert.Equal(t, 90.0, src.Distance())

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90.0, snap.LidarDistance)
	assert.True(t, math.IsNaN(snap.UltrasonicDistance))

	assert.Error(t, src.HandleFrame([]byte{1, 2, 3}))
	stats := src.Stats()
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, uint16(95), stats.Last.DistanceCm)

	clock.Advance(time.Second)
	assert.True(t, math.IsNaN(src.Distance()))
}

func TestSource_RunFromSerialMux(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux("lidar", port, ScanFrames)
	src := NewSource(1, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	go src.Run(ctx, mux)

	frame := EncodeFrame(Frame{DistanceCm: 64, Strength: 800})
	require.Eventually(t, func() bool {
		port.AddReadData(frame)
		return src.Distance() == 64
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, mux.Close())
}
