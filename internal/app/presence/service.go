package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"hzpresence/internal/app/state"
	"hzpresence/internal/pkg/errs"
	"hzpresence/internal/pkg/logx"
	"hzpresence/internal/pkg/metrics"
	"hzpresence/internal/pkg/randx"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultPresenceTTL       = 30 * time.Second
	DefaultStoreTimeout      = 5 * time.Second
)

// Service is one presence instance: it authenticates sockets, keeps the local registry
// and the shared store in lockstep, and broadcasts presence echoes.
type Service struct {
	uid   string
	store state.Store
	bus   state.Bus

	registry    *Registry
	broadcaster *Broadcaster

	middleware []Middleware
	hook       ConnectHook
	handle     Handle

	heartbeatInterval time.Duration
	presenceTTL       time.Duration
	storeTimeout      time.Duration
	drainBackoff      func() retry.Backoff

	logger zerolog.Logger

	mu        sync.Mutex
	closing   bool
	conns     map[string]*Session
	drainErrs []error
	wg        sync.WaitGroup

	sub           state.Subscription
	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithInstanceUID overrides the generated instance UID.
func WithInstanceUID(uid string) Option {
	return func(s *Service) {
		s.uid = uid
	}
}

// WithMiddleware appends handshake middleware. They run in the order given.
func WithMiddleware(mw ...Middleware) Option {
	return func(s *Service) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithConnectHook sets the onConnect hook.
func WithConnectHook(hook ConnectHook) Option {
	return func(s *Service) {
		s.hook = hook
	}
}

// WithBus relays echoes to and from other instances.
func WithBus(bus state.Bus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithHeartbeat sets how often the instance refreshes its liveness and how long the
// store keeps it alive without a refresh. Non-positive values keep the defaults.
func WithHeartbeat(interval, ttl time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
		if ttl > 0 {
			s.presenceTTL = ttl
		}
	}
}

// WithStoreTimeout bounds every individual store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New starts a presence instance on store: it announces the instance, subscribes to
// the echo bus and starts the heartbeat loop.
func New(store state.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("presence: nil store")
	}

	s := &Service{
		uid:               randx.InstanceUID(),
		store:             store,
		heartbeatInterval: DefaultHeartbeatInterval,
		presenceTTL:       DefaultPresenceTTL,
		storeTimeout:      DefaultStoreTimeout,
		drainBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
		},
		logger:        logx.Component("presence"),
		conns:         make(map[string]*Session),
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
		closed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With().Str("instance_uid", s.uid).Logger()
	s.registry = NewRegistry(s.uid, store, s.logger)
	s.broadcaster = NewBroadcaster(s.uid, store, s.registry, s.bus, s.logger)
	s.handle = serviceHandle{s: s}

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	if _, err := store.Heartbeat(ctx, s.uid, s.presenceTTL); err != nil {
		return nil, errs.Wrap(errs.ErrStoreUnavailable, err)
	}

	if s.bus != nil {
		sub, err := s.bus.Subscribe(ctx, s.broadcaster.HandleRemote)
		if err != nil {
			return nil, errs.Wrap(errs.ErrStoreUnavailable, err)
		}
		s.sub = sub
	}

	go s.runHeartbeatLoop()

	s.logger.Info().
		Dur("heartbeat_interval", s.heartbeatInterval).
		Dur("presence_ttl", s.presenceTTL).
		Msg("Presence instance started.")

	return s, nil
}

// InstanceUID returns this instance's UID.
func (s *Service) InstanceUID() string {
	return s.uid
}

// Serve drives one socket through its whole lifecycle and returns once the socket
// is CLOSED or REJECTED. Cancelling ctx closes the transport.
func (s *Service) Serve(ctx context.Context, conn Conn, hs *Handshake) {
	if hs == nil {
		hs = NewHandshake(nil, nil, "")
	}
	sess := newSession(randx.SocketID(), s.uid, conn, hs)
	logger := s.logger.With().Str("socket_id", sess.ID).Logger()

	if !s.track(sess) {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		s.reject(sess, LoginRejected(errs.NewError(errs.ErrServiceClosing).Error()))
		return
	}
	defer s.untrack(sess)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-connCtx.Done():
		}
	}()

	id, err := s.authenticate(connCtx, sess)
	if err != nil {
		if errors.Is(err, errAbandoned) {
			metrics.LoginsTotal.WithLabelValues("abandoned").Inc()
			logger.Debug().Msg("Socket went away during authentication.")
			sess.setState(StateClosed)
			_ = conn.Close("authentication abandoned")
			return
		}

		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		logger.Info().Err(err).Str("user", hs.UserName()).Msg("Login rejected.")
		if errs.CodeOf(err) == errs.ErrMiddlewareRejected {
			s.reject(sess, ErrorEvent(err.Error()))
		} else {
			s.reject(sess, LoginRejected(err.Error()))
		}
		return
	}

	sess.UserName = id.userName
	sess.Metadata = id.metadata
	sess.setState(StateAuthenticated)

	storeCtx, storeCancel := s.storeContext(connCtx)
	_, err = s.registry.Register(storeCtx, sess)
	storeCancel()
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("failed").Inc()
		s.reject(sess, LoginRejected(err.Error()))
		return
	}

	if connCtx.Err() != nil {
		metrics.LoginsTotal.WithLabelValues("abandoned").Inc()
		logger.Debug().Msg("Socket went away during registration. Entry removed.")
		s.unregister(connCtx, sess, logger, false)
		sess.setState(StateClosed)
		_ = conn.Close("authentication abandoned")
		return
	}

	// loginConfirmed is queued before the session can receive echoes.
	if err := sess.send(LoginConfirmed(sess.UserName, sess.confirmation())); err != nil {
		logger.Warn().Err(err).Msg("Failed to queue loginConfirmed.")
	}
	sess.setState(StateActive)
	metrics.LoginsTotal.WithLabelValues("confirmed").Inc()
	logger.Info().Str("user", sess.UserName).Msg("Login confirmed.")

	echoCtx, echoCancel := s.storeContext(connCtx)
	s.broadcaster.Connected(echoCtx, sess)
	echoCancel()

	select {
	case <-conn.Done():
	case <-ctx.Done():
		_ = conn.Close("server context cancelled")
	}

	sess.setState(StateDisconnecting)
	s.unregister(connCtx, sess, logger, true)
	sess.setState(StateClosed)

	logger.Info().Str("user", sess.UserName).Msg("Socket closed.")
}

// unregister removes sess and, when echo is set, announces the departure. While the
// instance drains, the store delete is retried and failures are kept for Close.
func (s *Service) unregister(ctx context.Context, sess *Session, logger zerolog.Logger, echo bool) {
	var backoff retry.Backoff
	if s.isClosing() {
		backoff = s.drainBackoff()
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.registry.Unregister(storeCtx, sess.ID, backoff); err != nil {
		metrics.OrphanedEntriesTotal.Inc()
		logger.Error().Err(err).
			Str("user", sess.UserName).
			Msg("Presence entry outlived its socket. The next heartbeat retries the delete.")
		s.recordDrainError(err)
		return
	}

	if echo {
		s.broadcaster.Disconnected(storeCtx, sess)
	}
}

// reject delivers a rejection event and closes the transport. The session never
// receives anything afterwards.
func (s *Service) reject(sess *Session, ev Event) {
	if err := sess.conn.Send(ev); err != nil {
		s.logger.Debug().Err(err).Str("socket_id", sess.ID).Msg("Failed to queue rejection.")
	}
	sess.setState(StateRejected)
	_ = sess.conn.Close("login rejected")
}

// storeContext detaches ctx from the socket's cancellation so a started store write
// always completes, and bounds it with the store timeout.
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

// InstanceSockets returns socketID -> userName from the shared store: across all
// instances without an argument, otherwise for the given instance.
func (s *Service) InstanceSockets(ctx context.Context, instanceUID ...string) (map[string]string, error) {
	var (
		sockets map[string]string
		err     error
	)
	if len(instanceUID) == 0 || instanceUID[0] == "" {
		sockets, err = s.store.AllSockets(ctx)
	} else {
		sockets, err = s.store.SocketsForInstance(ctx, instanceUID[0])
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("query").Inc()
		return nil, errs.Wrap(errs.ErrStoreUnavailable, err)
	}
	return sockets, nil
}

// LocalSockets returns socketID -> userName for sessions registered on this instance.
func (s *Service) LocalSockets() map[string]string {
	return s.registry.LocalSockets()
}

func (s *Service) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.conns[sess.ID] = sess
	s.wg.Add(1)
	return true
}

func (s *Service) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.conns, sess.ID)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Service) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Service) recordDrainError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		s.drainErrs = append(s.drainErrs, err)
	}
}

func (s *Service) tracked(socketID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.conns[socketID]
	return sess, ok
}

// serviceHandle is the Handle given to connect hooks.
type serviceHandle struct {
	s *Service
}

func (h serviceHandle) InstanceUID() string {
	return h.s.uid
}

func (h serviceHandle) Handshake(socketID string) (*Handshake, bool) {
	sess, ok := h.s.tracked(socketID)
	if !ok {
		return nil, false
	}
	return sess.handshake, true
}

func (h serviceHandle) InstanceSockets(ctx context.Context, instanceUID ...string) (map[string]string, error) {
	return h.s.InstanceSockets(ctx, instanceUID...)
}
