package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

const (
	// HeartbeatInterval is how often the sweep loop looks for stale
	// connections.
	HeartbeatInterval = 30 * time.Second
	// HeartbeatTimeout is how long a connection may go without a
	// heartbeat before it is torn down.
	HeartbeatTimeout = 120 * time.Second
)

// Socket is the transport side of a live connection. Implementations must
// be safe for concurrent Send calls; a failed Send means the connection is
// no longer usable.
type Socket interface {
	Send(event string, payload any) error
	Close() error
}

type conn struct {
	id       string
	userID   int64
	deviceID string
	socket   Socket
	lastBeat time.Time
}

// Registry tracks live connections and maps users to their devices. All
// map access happens under one mutex; store writes and socket teardown
// happen outside it.
type Registry struct {
	store  store.DataStore
	logger zerolog.Logger
	now    func() time.Time

	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	conns     map[string]*conn
	userConns map[int64]map[string]*conn

	stop chan struct{}
	done chan struct{}
}

// New creates a registry backed by the given store.
func New(st store.DataStore, logger zerolog.Logger) *Registry {
	return &Registry{
		store:     st,
		logger:    logger.With().Str("component", "registry").Logger(),
		now:       time.Now,
		interval:  HeartbeatInterval,
		timeout:   HeartbeatTimeout,
		conns:     make(map[string]*conn),
		userConns: make(map[int64]map[string]*conn),
	}
}

// Start launches the stale-connection sweep loop.
func (r *Registry) Start() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.sweepLoop()
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Registry) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

func (r *Registry) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

// Connect registers a live connection. Registering an ID that is already
// present refreshes its heartbeat instead of erroring, so transport
// retries stay idempotent.
func (r *Registry) Connect(ctx context.Context, connectionID string, userID int64, deviceID string, socket Socket) error {
	now := r.now().UTC()

	r.mu.Lock()
	if existing, ok := r.conns[connectionID]; ok {
		existing.lastBeat = now
		r.mu.Unlock()
		return r.store.TouchConnection(ctx, connectionID, now)
	}
	c := &conn{id: connectionID, userID: userID, deviceID: deviceID, socket: socket, lastBeat: now}
	r.conns[connectionID] = c
	byUser, ok := r.userConns[userID]
	if !ok {
		byUser = make(map[string]*conn)
		r.userConns[userID] = byUser
	}
	byUser[connectionID] = c
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))

	err := r.store.CreateConnection(ctx, &models.Connection{
		ConnectionID:  connectionID,
		UserID:        userID,
		DeviceID:      deviceID,
		Status:        models.ConnectionConnected,
		LastHeartbeat: now,
		ConnectedAt:   now,
	})
	if err != nil {
		return err
	}

	r.logger.Info().
		Str("connection_id", connectionID).
		Int64("user_id", userID).
		Str("device_id", deviceID).
		Int("total", total).
		Msg("connection registered")
	return nil
}

// Disconnect removes a connection. Unknown IDs are a no-op and return
// false. When a staff user's last connection drops, their agent status is
// flipped to offline.
func (r *Registry) Disconnect(ctx context.Context, connectionID string) bool {
	now := r.now().UTC()

	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, connectionID)
	lastForUser := false
	if byUser, ok := r.userConns[c.userID]; ok {
		delete(byUser, connectionID)
		if len(byUser) == 0 {
			delete(r.userConns, c.userID)
			lastForUser = true
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))

	_ = c.socket.Close()
	if _, err := r.store.DisconnectConnection(ctx, connectionID, now); err != nil {
		r.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("persist disconnect failed")
	}

	if lastForUser {
		r.maybeAgentOffline(ctx, c.userID, now)
	}

	r.logger.Info().
		Str("connection_id", connectionID).
		Int64("user_id", c.userID).
		Msg("connection removed")
	return true
}

// maybeAgentOffline marks staff users offline when their last connection
// is gone.
func (r *Registry) maybeAgentOffline(ctx context.Context, userID int64, now time.Time) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		r.logger.Warn().Err(err).Int64("user_id", userID).Msg("role lookup failed")
		return
	}
	if user == nil || !user.Role.IsStaff() {
		return
	}
	if err := r.store.UpsertAgentStatus(ctx, userID, models.AgentOffline, now); err != nil {
		r.logger.Warn().Err(err).Int64("user_id", userID).Msg("agent offline update failed")
		return
	}
	r.logger.Info().Int64("user_id", userID).Msg("agent marked offline")
}

// Heartbeat refreshes a connection's liveness. Unknown IDs return false.
func (r *Registry) Heartbeat(ctx context.Context, connectionID string) bool {
	now := r.now().UTC()

	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if ok {
		c.lastBeat = now
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := r.store.TouchConnection(ctx, connectionID, now); err != nil {
		r.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("persist heartbeat failed")
	}
	return true
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userConns[userID]) > 0
}

// Connections returns the connection IDs for a user.
func (r *Registry) Connections(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	byUser := r.userConns[userID]
	ids := make([]string, 0, len(byUser))
	for id := range byUser {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// SendToConnection delivers an event to one connection. A send failure
// tears the connection down.
func (r *Registry) SendToConnection(ctx context.Context, connectionID, event string, payload any) bool {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.socket.Send(event, payload); err != nil {
		r.logger.Warn().Err(err).Str("connection_id", connectionID).Str("event", event).Msg("send failed")
		r.Disconnect(ctx, connectionID)
		return false
	}
	return true
}

// SendToUser fans an event out to every live connection the user has and
// returns how many sends succeeded.
func (r *Registry) SendToUser(ctx context.Context, userID int64, event string, payload any) int {
	r.mu.Lock()
	targets := make([]*conn, 0, len(r.userConns[userID]))
	for _, c := range r.userConns[userID] {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if err := c.socket.Send(event, payload); err != nil {
			r.logger.Warn().Err(err).Str("connection_id", c.id).Str("event", event).Msg("send failed")
			r.Disconnect(ctx, c.id)
			continue
		}
		sent++
	}
	return sent
}

// Sweep tears down connections whose last heartbeat is older than the
// timeout. The lock is held only to snapshot the stale set; teardown,
// which touches the store and sockets, runs outside it.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now().UTC()
	cutoff := now.Add(-r.timeout)

	r.mu.Lock()
	stale := make([]string, 0)
	for id, c := range r.conns {
		if c.lastBeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Disconnect(ctx, id)
	}
	if len(stale) > 0 {
		metrics.StaleConnectionsSwept.Add(float64(len(stale)))
	}

	if n, err := r.store.CleanupStaleConnections(ctx, cutoff, now); err != nil {
		r.logger.Warn().Err(err).Msg("stale connection cleanup failed")
	} else if n > 0 || len(stale) > 0 {
		r.logger.Info().Int("in_memory", len(stale)).Int64("persisted", n).Msg("stale connections swept")
	}
	return len(stale)
}
