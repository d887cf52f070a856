package drive

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/testutil"
)

func TestAttachAdminRoutes_DriveStatus(t *testing.T) {
	l, _ := newLoop(t, &fixedSensor{d: 500}, Options{})
	require.NoError(t, l.Tick(context.Background()))

	mux := http.NewServeMux()
	l.AttachAdminRoutes(mux)

	w := testutil.Serve(mux, testutil.NewDebugRequest(http.MethodGet, "/debug/drive-status"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	st := testutil.DecodeJSON[Status](t, w)
	assert.Equal(t, autopilot.Cruising, st.State)
	assert.Equal(t, uint64(1), st.Ticks)

	w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodPost, "/debug/drive-status"))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}
