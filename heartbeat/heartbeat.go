package heartbeat

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/rest"
	"github.com/trezcool/darasa/storage/localstore"
)

// SignedOutDueToInactivity is the one-shot localstore flag set when the
// server-side session expired underneath us; the next page load consumes it
// to explain the forced sign-out.
const SignedOutDueToInactivity = "SIGNED_OUT_DUE_TO_INACTIVITY"

// Session is the session-status payload returned by the backend.
type Session struct {
	UserID string `json:"user_id"`
}

type Options struct {
	Client *rest.Client
	Conf   *core.Config
	State  *ConnectionState
	Store  *localstore.Store
	Logger core.Logger

	// UserID is the locally known authenticated user.
	UserID string

	// SignOut is invoked with the newly authenticated user id ("" when the
	// session expired) whenever the server session no longer belongs to
	// UserID.
	SignOut func(newUserID string)
}

// HeartBeat periodically checks session validity with the backend, detects
// disconnection via the configured status codes and drives the
// connected / trying-to-reconnect / disconnected state machine with
// exponential backoff.
type HeartBeat struct {
	client  *rest.Client
	conf    *core.Config
	state   *ConnectionState
	store   *localstore.Store
	logger  core.Logger
	signOut func(string)

	mu        sync.Mutex
	timer     *time.Timer
	started   bool
	active    bool
	userID    string
	reconnect time.Duration // current backoff; zero while connected
}

func New(opts Options) *HeartBeat {
	if opts.State == nil {
		opts.State = NewConnectionState()
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	return &HeartBeat{
		client:  opts.Client,
		conf:    opts.Conf,
		state:   opts.State,
		store:   opts.Store,
		logger:  opts.Logger,
		signOut: opts.SignOut,
		userID:  opts.UserID,
	}
}

func (hb *HeartBeat) State() *ConnectionState { return hb.state }

// SetUserID records the locally known authenticated user.
func (hb *HeartBeat) SetUserID(id string) {
	hb.mu.Lock()
	hb.userID = id
	hb.mu.Unlock()
}

// SetUserActive records user interaction since the last beat; the browser
// client wires this to DOM activity listeners, callers here invoke it on any
// user-driven API activity.
func (hb *HeartBeat) SetUserActive() {
	hb.mu.Lock()
	hb.active = true
	hb.mu.Unlock()
}

// Start schedules the recurring beat. Idempotent.
func (hb *HeartBeat) Start() {
	hb.mu.Lock()
	if hb.started {
		hb.mu.Unlock()
		return
	}
	hb.started = true
	hb.mu.Unlock()
	go hb.beat()
}

// Stop cancels the poller; a Stop'd heartbeat can be Start'ed again.
func (hb *HeartBeat) Stop() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.started = false
	if hb.timer != nil {
		hb.timer.Stop()
		hb.timer = nil
	}
}

// beat runs one poll cycle: consume the activity flag, check the session and,
// regardless of outcome, reschedule.
func (hb *HeartBeat) beat() {
	hb.mu.Lock()
	if !hb.started {
		hb.mu.Unlock()
		return
	}
	active := hb.active
	hb.active = false // reset activity tracking for the next cycle
	hb.mu.Unlock()

	hb.checkSession(context.Background(), active)
	hb.wait()
}

// checkSession issues the session-status request and routes the outcome into
// the connectivity state machine.
func (hb *HeartBeat) checkSession(ctx context.Context, active bool) {
	connected := hb.state.Connected()
	if !connected {
		// surface the attempt before the request goes out
		hb.state.setSnackbar(SnackbarTryingToReconnect)
	}

	res, err := hb.client.Do(ctx, rest.Request{
		Path:   hb.conf.API.SessionPath,
		Params: map[string]string{"active": strconv.FormatBool(active)},
	})
	if err != nil {
		if hb.client.IsDisconnected(err) {
			if connected {
				hb.logger.Warn("heartbeat: connection to the server lost", err)
				hb.monitorDisconnect()
			} else {
				hb.increaseBackoff()
			}
			return
		}
		// unrelated errors must not flap the connectivity state
		hb.logger.Error("heartbeat: session check failed", err)
		return
	}

	if !connected {
		hb.setConnected()
	}

	var session Session
	if err := json.Unmarshal(res.Data, &session); err != nil {
		hb.logger.Error("heartbeat: malformed session payload", err)
		return
	}

	hb.mu.Lock()
	known := hb.userID
	hb.mu.Unlock()
	if session.UserID != known {
		// someone else is now authenticated on this browser session; a
		// security concern, not a network error
		if session.UserID == "" && hb.store != nil {
			if err := hb.store.Put(SignedOutDueToInactivity, true); err != nil {
				hb.logger.Error("heartbeat: persisting sign-out flag failed", err)
			}
		}
		if hb.signOut != nil {
			hb.signOut(session.UserID)
		}
	}
}

// monitorDisconnect transitions into the degraded state. Idempotent: repeated
// failures within the same degraded period must not reset the backoff.
func (hb *HeartBeat) monitorDisconnect() {
	if !hb.state.Connected() {
		return
	}
	hb.mu.Lock()
	hb.reconnect = hb.conf.Heartbeat.ReconnectMinDelay
	reconnect := hb.reconnect
	hb.mu.Unlock()

	hb.state.set(false, reconnect, SnackbarDisconnected)
	hb.wait()
}

// increaseBackoff doubles the reconnect interval, bounded to the configured
// maximum, and updates the displayed countdown.
func (hb *HeartBeat) increaseBackoff() {
	hb.mu.Lock()
	hb.reconnect *= 2
	if max := hb.conf.Heartbeat.ReconnectMaxDelay; hb.reconnect > max {
		hb.reconnect = max
	}
	reconnect := hb.reconnect
	hb.mu.Unlock()

	hb.state.set(false, reconnect, SnackbarDisconnected)
}

// setConnected leaves the degraded state and restores the normal polling
// interval.
func (hb *HeartBeat) setConnected() {
	hb.mu.Lock()
	hb.reconnect = 0
	hb.mu.Unlock()

	hb.state.set(true, 0, SnackbarSuccessfullyReconnected)
	hb.wait()
}

// wait schedules the next beat: the growing backoff while disconnected, the
// long poll interval while connected. Exactly one timer handle is live at a
// time; any previous handle is cleared first.
func (hb *HeartBeat) wait() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if !hb.started {
		return
	}
	delay := hb.conf.Heartbeat.Delay
	if hb.reconnect > 0 {
		delay = hb.reconnect
	}
	if hb.timer != nil {
		hb.timer.Stop()
	}
	hb.timer = time.AfterFunc(delay, hb.beat)
}
