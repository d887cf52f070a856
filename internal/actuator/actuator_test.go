package actuator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/serialmux"
)

func TestLimits_Clamp(t *testing.T) {
	l := DefaultLimits()
	tests := []struct {
		in, want autopilot.Command
	}{
		{autopilot.Command{Speed: 50}, autopilot.Command{Speed: 50}},
		{autopilot.Command{Speed: -150, Angle: 45}, autopilot.Command{Speed: -100, Angle: 30}},
		{autopilot.Command{Pan: -31, Tilt: 90, Pump: true}, autopilot.Command{Pan: -30, Tilt: 30, Pump: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Clamp(tt.in))
	}
}

func TestLineActuator(t *testing.T) {
	ctx := context.Background()
	port := serialmux.NewTestableSerialPort()
	a := NewLineActuator(serialmux.NewSerialMux("motor", port, nil), DefaultLimits())

	require.NoError(t, a.Apply(ctx, autopilot.Command{Speed: 50}))
	require.NoError(t, a.Apply(ctx, autopilot.Command{Speed: 50}))
	require.NoError(t, a.Apply(ctx, autopilot.Command{Angle: 60, Pump: true}))
	require.NoError(t, a.Halt(ctx))
	require.NoError(t, a.Halt(ctx))

	want := "M 50 0 0 0 0\nM 0 30 0 0 1\nM 0 0 0 0 0\nM 0 0 0 0 0\n"
	assert.Equal(t, want, string(port.WrittenData()))

	port.WriteError = errors.New("unplugged")
	assert.Error(t, a.Apply(ctx, autopilot.Command{Speed: 10}))
	// A failed write is retried on the next identical command.
	require.NoError(t, a.Apply(ctx, autopilot.Command{Speed: 10}))
	assert.Contains(t, string(port.WrittenData()), "M 10 0 0 0 0\n")
}

func TestLogActuator(t *testing.T) {
	a := NewLogActuator(DefaultLimits())
	require.NoError(t, a.Apply(context.Background(), autopilot.Command{Speed: 500}))
	assert.Equal(t, autopilot.Command{Speed: 100}, a.last)
	require.NoError(t, a.Halt(context.Background()))
	assert.Equal(t, autopilot.Command{}, a.last)
}
