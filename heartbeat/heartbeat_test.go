package heartbeat

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/rest"
	"github.com/trezcool/darasa/storage/localstore"
	testutil "github.com/trezcool/darasa/tests"
)

// sessionBackend is a fake session endpoint whose status and user are
// switchable mid-test.
type sessionBackend struct {
	*testutil.Backend

	mu     sync.Mutex
	status int
	userID string
}

func (b *sessionBackend) setStatus(status int) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

func (b *sessionBackend) setUserID(id string) {
	b.mu.Lock()
	b.userID = id
	b.mu.Unlock()
}

func setup(t *testing.T, userID string, signOut func(string)) (*HeartBeat, *sessionBackend) {
	backend := &sessionBackend{Backend: testutil.NewBackend(t), status: http.StatusOK, userID: userID}
	backend.Echo.GET("/api/session/current/", func(c echo.Context) error {
		backend.mu.Lock()
		status, uid := backend.status, backend.userID
		backend.mu.Unlock()
		if status != http.StatusOK {
			return c.JSON(status, map[string]string{"detail": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"user_id": uid})
	})

	conf := testutil.NewConfig(t, backend.URL())
	cli, err := rest.NewClient(conf, core.NopLogger{})
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	store, err := localstore.Open(conf.LocalStorePath)
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	hb := New(Options{
		Client:  cli,
		Conf:    conf,
		Store:   store,
		Logger:  core.NopLogger{},
		UserID:  userID,
		SignOut: signOut,
	})
	return hb, backend
}

func TestHeartBeat_reconnectionTransition(t *testing.T) {
	hb, backend := setup(t, "u1", nil)

	var reconnectedShown int
	hb.State().OnChange(func(_ bool, _ time.Duration, snackbar Snackbar) {
		if snackbar == SnackbarSuccessfullyReconnected {
			reconnectedShown++
		}
	})

	assert.True(t, hb.State().Connected())
	assert.Equal(t, time.Duration(0), hb.State().ReconnectTime())

	backend.setStatus(http.StatusServiceUnavailable)
	hb.checkSession(context.Background(), false)
	assert.False(t, hb.State().Connected())
	assert.Equal(t, 5*time.Second, hb.State().ReconnectTime())
	assert.Equal(t, SnackbarDisconnected, hb.State().CurrentSnackbar())

	backend.setStatus(http.StatusOK)
	hb.checkSession(context.Background(), false)
	assert.True(t, hb.State().Connected())
	assert.Equal(t, time.Duration(0), hb.State().ReconnectTime())
	assert.Equal(t, SnackbarSuccessfullyReconnected, hb.State().CurrentSnackbar())
	assert.Equal(t, 1, reconnectedShown)
}

func TestHeartBeat_backoff(t *testing.T) {
	hb, backend := setup(t, "u1", nil)
	backend.setStatus(http.StatusBadGateway)

	// first failure initializes the backoff to the minimum
	hb.checkSession(context.Background(), false)
	assert.Equal(t, 5*time.Second, hb.State().ReconnectTime())

	// then it doubles on each consecutive failure, capped at the maximum
	want := []time.Duration{
		10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second,
		160 * time.Second, 320 * time.Second, 600 * time.Second, 600 * time.Second,
	}
	for _, expected := range want {
		hb.checkSession(context.Background(), false)
		assert.Equal(t, expected, hb.State().ReconnectTime())
	}
}

func TestHeartBeat_monitorDisconnectIdempotence(t *testing.T) {
	hb, _ := setup(t, "u1", nil)

	hb.monitorDisconnect()
	assert.False(t, hb.State().Connected())
	assert.Equal(t, 5*time.Second, hb.State().ReconnectTime())

	// repeated failures within the same degraded period must not reset the
	// backoff
	hb.increaseBackoff()
	assert.Equal(t, 10*time.Second, hb.State().ReconnectTime())
	hb.monitorDisconnect()
	assert.Equal(t, 10*time.Second, hb.State().ReconnectTime())
}

func TestHeartBeat_unrelatedErrorsDoNotFlap(t *testing.T) {
	hb, backend := setup(t, "u1", nil)
	backend.setStatus(http.StatusInternalServerError) // not a disconnect code

	hb.checkSession(context.Background(), false)
	assert.True(t, hb.State().Connected())
	assert.Equal(t, time.Duration(0), hb.State().ReconnectTime())
	assert.Equal(t, SnackbarNone, hb.State().CurrentSnackbar())
}

func TestHeartBeat_unreachableServer(t *testing.T) {
	hb, backend := setup(t, "u1", nil)
	backend.Server.Close()

	hb.checkSession(context.Background(), false)
	assert.False(t, hb.State().Connected())
	assert.Equal(t, 5*time.Second, hb.State().ReconnectTime())
}

func TestHeartBeat_signOutOnExpiredSession(t *testing.T) {
	var signedOut []string
	hb, backend := setup(t, "u1", func(newUserID string) { signedOut = append(signedOut, newUserID) })
	backend.setUserID("") // session expired server-side

	hb.checkSession(context.Background(), false)
	assert.Equal(t, []string{""}, signedOut)

	// the persisted flag is one-shot
	set, err := hb.store.TakeFlag(SignedOutDueToInactivity)
	assert.NoError(t, err)
	assert.True(t, set)
	set, err = hb.store.TakeFlag(SignedOutDueToInactivity)
	assert.NoError(t, err)
	assert.False(t, set)
}

func TestHeartBeat_signOutOnUserChange(t *testing.T) {
	var signedOut []string
	hb, backend := setup(t, "u1", func(newUserID string) { signedOut = append(signedOut, newUserID) })
	backend.setUserID("u2") // someone else authenticated on this browser session

	hb.checkSession(context.Background(), false)
	assert.Equal(t, []string{"u2"}, signedOut)

	// not an inactivity sign-out: no flag
	set, err := hb.store.TakeFlag(SignedOutDueToInactivity)
	assert.NoError(t, err)
	assert.False(t, set)
}

func TestHeartBeat_beatForwardsActivity(t *testing.T) {
	hb, backend := setup(t, "u1", nil)
	hb.mu.Lock()
	hb.started = true
	hb.mu.Unlock()
	defer hb.Stop()

	hb.SetUserActive()
	hb.beat()
	calls := backend.Calls(http.MethodGet, "/api/session/current/")
	assert.Len(t, calls, 1)
	assert.Equal(t, "true", calls[0].Query.Get("active"))

	// the activity flag resets after every beat
	hb.beat()
	calls = backend.Calls(http.MethodGet, "/api/session/current/")
	assert.Len(t, calls, 2)
	assert.Equal(t, "false", calls[1].Query.Get("active"))
}

func TestHeartBeat_timerDiscipline(t *testing.T) {
	hb, _ := setup(t, "u1", nil)
	hb.mu.Lock()
	hb.started = true
	hb.mu.Unlock()
	defer hb.Stop()

	hb.wait()
	hb.mu.Lock()
	first := hb.timer
	hb.mu.Unlock()
	assert.NotNil(t, first)

	// rescheduling clears the previous handle
	hb.wait()
	hb.mu.Lock()
	second := hb.timer
	hb.mu.Unlock()
	assert.NotSame(t, first, second)
	assert.False(t, first.Stop()) // already stopped

	hb.Stop()
	hb.mu.Lock()
	assert.Nil(t, hb.timer)
	assert.False(t, hb.started)
	hb.mu.Unlock()
}
