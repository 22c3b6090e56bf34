package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"islandctl/src/config"
	"islandctl/src/fanout"
	"islandctl/src/internal/fakes"
	"islandctl/src/islanderr"
	"islandctl/src/kernel"
	"islandctl/src/logging"
)

func TestStatusForMapsEveryKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{islanderr.NotFound("x", nil), http.StatusNotFound},
		{islanderr.AlreadyExists("x", nil), http.StatusConflict},
		{islanderr.InvalidState("x", nil), http.StatusConflict},
		{islanderr.CapacityExhausted("x", nil), http.StatusServiceUnavailable},
		{islanderr.DriverUnavailable("x", nil), http.StatusBadGateway},
		{islanderr.DriverTimeout("x", nil), http.StatusBadGateway},
		{islanderr.RetryExceeded("x", nil), http.StatusConflict},
		{islanderr.Internal("x", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "kind %s", islanderr.KindOf(tc.err))
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	islands := fakes.NewIslandRepo()
	teams := fakes.NewTeamRepo()
	drv := fakes.NewDriver()
	bus := fakes.NewBus()
	log := logging.New("api-test", "error", "json")
	cfg := config.Config{
		MaxRunningServers:  2,
		LXDBaseImage:       "skyblock-base",
		LXDDefaultProfiles: []string{"default"},
		LXDIPRetryAttempts: 1,
		LXDIPRetryDelay:    time.Millisecond,
	}
	tasks := kernel.NewTaskRunner(2, 16, log)
	t.Cleanup(tasks.Stop)
	k := kernel.New(islands, teams, fakes.NewCreationQueue(), fakes.NewStartQueue(), fakes.NewUpdateQueue(), drv, bus, log, cfg, tasks)
	reg := fanout.NewRegistry(log)
	return NewServer(k, reg, nil, drv, log)
}

func TestCreateIslandHandlerAccepted(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	body, err := json.Marshal(createIslandRequest{PlayerUUID: "player-1", PlayerName: "Alice"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/islands", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCreateIslandHandlerRejectsDuplicateWithConflict(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	body, err := json.Marshal(createIslandRequest{PlayerUUID: "player-2", PlayerName: "Bob"})
	require.NoError(t, err)

	first := httptest.NewRequest(http.MethodPost, "/islands", bytes.NewReader(body))
	first.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/islands", bytes.NewReader(body))
	second.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, second)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateIslandHandlerRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/islands", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetIslandHandlerNotFound(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/islands/no-such-player", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
