package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux("lidar", NewTestableSerialPort(), nil)
	assert.Equal(t, "lidar", mux.Name())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	assert.NotEqual(t, id1, id2)

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "channel should be closed after Unsubscribe")

	// Unknown IDs are ignored.
	mux.Unsubscribe("non-existent-id")

	mux.subscriberMu.Lock()
	assert.Len(t, mux.subscribers, 1)
	mux.subscriberMu.Unlock()
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux("motor", port, nil)

	require.NoError(t, mux.SendCommand("M 50 0 0 0 0"))
	require.NoError(t, mux.SendCommand("M 0 0 0 0 0\n"))
	assert.Equal(t, "M 50 0 0 0 0\nM 0 0 0 0 0\n", string(port.WrittenData()))

	port.WriteError = errors.New("boom")
	assert.Error(t, mux.SendCommand("M 1 0 0 0 0"))
}

func TestSerialMux_MonitorFansOutPayloads(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux("motor", port, bufio.ScanLines)
	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("ok 1\nok 2\n"))

	for _, ch := range []chan []byte{ch1, ch2} {
		for _, want := range []string{"ok 1", "ok 2"} {
			select {
			case got := <-ch:
				assert.Equal(t, want, string(got))
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	assert.Equal(t, Stats{Payloads: 2}, mux.Stats())
	require.NoError(t, mux.Close())
	assert.True(t, port.Closed())
}

func TestSerialMux_CountsDropsForFullSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux("lidar", port, bufio.ScanLines)
	_, slow := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	port.AddReadData([]byte(strings.Repeat("x\n", subscriberBuffer+4)))

	require.Eventually(t, func() bool {
		return mux.Stats().Payloads == subscriberBuffer+4
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(4), mux.Stats().Dropped)
	assert.Len(t, slow, subscriberBuffer)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	req := httptest.NewRequest(http.MethodGet, "/debug/lidar-stats", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"payloads": 20, "dropped": 4}`, w.Body.String())
}

func TestSerialMux_CloseEndsHandleEvents(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux("lidar", port, nil)

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- HandleEvents(context.Background(), mux, func(b []byte) error {
			got <- string(b)
			return nil
		})
	}()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	// HandleEvents subscribes asynchronously; keep feeding until it sees data.
	deadline := time.After(2 * time.Second)
	for seen := false; !seen; {
		port.AddReadData([]byte("hello\n"))
		select {
		case line := <-got:
			assert.Equal(t, "hello", line)
			seen = true
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no payload delivered")
		}
	}

	require.NoError(t, mux.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("HandleEvents did not return after Close")
	}
}

func TestSerialMux_AdminRoutes(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux("motor", port, nil)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"M 10 0 0 0 0"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/motor-send-command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "M 10 0 0 0 0\n", string(port.WrittenData()))

	req = httptest.NewRequest(http.MethodGet, "/debug/motor-send-command", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux("lidar")
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	_, ch = d.Subscribe()
	require.NoError(t, d.Close())
	_, ok = <-ch
	assert.False(t, ok)

	// Subscribing after close yields a closed channel.
	_, ch = d.Subscribe()
	_, ok = <-ch
	assert.False(t, ok)
	assert.NoError(t, d.SendCommand("anything"))

	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)
	req := httptest.NewRequest(http.MethodPost, "/debug/lidar-send-command", strings.NewReader("command=x"))
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "lidar serial disabled")
}

func TestFormatPayload(t *testing.T) {
	assert.Equal(t, "ok 1", FormatPayload([]byte("ok 1")))
	assert.Equal(t, "59 59 2c 01", FormatPayload([]byte{0x59, 0x59, 0x2c, 0x01}))
	assert.Equal(t, "", FormatPayload(nil))
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	mode, err = PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: " even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	n, err := PortOptions{BaudRate: 9600, Parity: "odd"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "9600 8O1", n.String())

	_, err = PortOptions{Parity: "X"}.SerialMode()
	assert.Error(t, err)
	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
}
