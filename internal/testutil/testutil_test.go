package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestNewJSONRequest(t *testing.T) {
	t.Parallel()

	req := NewJSONRequest(t, http.MethodPost, "/api/script", []map[string]any{{"kind": "turn", "angle": 45}})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
	body, err := io.ReadAll(req.Body)
	AssertNoError(t, err)
	if string(body) != "[{\"angle\":45,\"kind\":\"turn\"}]\n" {
		t.Errorf("unexpected body %q", body)
	}

	empty := NewJSONRequest(t, http.MethodPost, "/api/stop", nil)
	if empty.ContentLength != 0 || empty.Header.Get("Content-Type") != "" {
		t.Error("nil body should send no content")
	}
}

func TestServeAndDecode(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.RemoteAddr != "127.0.0.1:1234" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"ticks": 3})
	})

	w := Serve(h, NewDebugRequest(http.MethodGet, "/debug/status"))
	AssertStatusCode(t, w.Code, http.StatusOK)
	got := DecodeJSON[map[string]int](t, w)
	if got["ticks"] != 3 {
		t.Errorf("ticks = %d, want 3", got["ticks"])
	}
}
