package heartbeat

import (
	"sync"
	"time"
)

// Snackbar identifies which connectivity notification the UI should display.
type Snackbar string

const (
	SnackbarNone                    Snackbar = ""
	SnackbarTryingToReconnect       Snackbar = "trying_to_reconnect"
	SnackbarDisconnected            Snackbar = "disconnected"
	SnackbarSuccessfullyReconnected Snackbar = "successfully_reconnected"
)

// ConnectionState is the process-wide connectivity store. It is mutated only
// by HeartBeat; UI surfaces read it (or subscribe via OnChange).
type ConnectionState struct {
	mu              sync.Mutex
	connected       bool
	reconnectTime   time.Duration // current backoff; zero while connected
	currentSnackbar Snackbar
	onChange        func(connected bool, reconnectTime time.Duration, snackbar Snackbar)
}

func NewConnectionState() *ConnectionState {
	return &ConnectionState{connected: true}
}

func (s *ConnectionState) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *ConnectionState) ReconnectTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectTime
}

func (s *ConnectionState) CurrentSnackbar() Snackbar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSnackbar
}

// OnChange registers a single observer notified after every mutation.
func (s *ConnectionState) OnChange(fn func(connected bool, reconnectTime time.Duration, snackbar Snackbar)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *ConnectionState) set(connected bool, reconnectTime time.Duration, snackbar Snackbar) {
	s.mu.Lock()
	s.connected = connected
	s.reconnectTime = reconnectTime
	s.currentSnackbar = snackbar
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(connected, reconnectTime, snackbar)
	}
}

func (s *ConnectionState) setSnackbar(snackbar Snackbar) {
	s.mu.Lock()
	s.currentSnackbar = snackbar
	connected, reconnectTime := s.connected, s.reconnectTime
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(connected, reconnectTime, snackbar)
	}
}
