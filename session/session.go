// Package session holds the process-wide authentication state: who is logged in and with
// which role. It is the only writer of tokens and identity apart from the request
// pipeline's expiry path.
package session

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/jrsteele09/go-dashboard-session/backend"
	"github.com/jrsteele09/go-dashboard-session/httpclient"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/rs/zerolog/log"
)

const stateTopic = "session:state"

// Store is the token store as seen by the session
type Store interface {
	Read(ctx context.Context) (*token.Pair, error)
	ReadIdentity(ctx context.Context) (*users.Identity, error)
	SaveSession(ctx context.Context, pair token.Pair, identity users.Identity) error
	SaveIdentity(ctx context.Context, identity users.Identity) error
	Clear(ctx context.Context) error
}

// Backend is the set of unauthenticated account endpoints
type Backend interface {
	Login(ctx context.Context, creds users.Credentials) (backend.LoginResponse, error)
	Me(ctx context.Context, accessToken string) (backend.Profile, error)
	Register(ctx context.Context, registration users.Registration) (string, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, req backend.ResetPasswordRequest) (string, error)
}

// IdentityFetcher resolves the identity of the stored access token through the request pipeline
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context) (users.Identity, error)
}

// Navigator moves the user to the login entry point after a forced expiry
type Navigator interface {
	NavigateToLogin(ctx context.Context)
}

type Session struct {
	store          Store
	backend        Backend
	fetcher        IdentityFetcher
	decoder        *token.Decoder
	navigator      Navigator
	resolveTimeout time.Duration

	state       State
	epoch       uint64
	logouts     uint64
	initialized bool
	resolved    chan struct{}
	mutex       sync.RWMutex

	bus          EventBus.Bus
	topics       map[uint64]string
	nextTopic    uint64
	topicsMutex  sync.Mutex
	resolvedOnce sync.Once

	pending     []notification
	draining    bool
	delivered   uint64
	notifyMutex sync.Mutex
}

// notification is a state snapshot tagged with the epoch of the transition that produced it
type notification struct {
	epoch uint64
	state State
}

type Option func(*Session)

// WithIdentityFetcher sets how the identity is fetched when neither the token nor the store carries it
func WithIdentityFetcher(fetcher IdentityFetcher) Option {
	return func(s *Session) {
		s.fetcher = fetcher
	}
}

func WithDecoder(decoder *token.Decoder) Option {
	return func(s *Session) {
		s.decoder = decoder
	}
}

func WithNavigator(navigator Navigator) Option {
	return func(s *Session) {
		s.navigator = navigator
	}
}

// WithResolveTimeout bounds start-up resolution, which outlives the caller's context
func WithResolveTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.resolveTimeout = timeout
	}
}

// New creates a session in the Resolving state. Call Initialize (or Start) once at application start.
func New(store Store, b Backend, options ...Option) *Session {
	s := &Session{
		store:          store,
		backend:        b,
		decoder:        token.NewDecoder(),
		resolveTimeout: 10 * time.Second,
		state:          Resolving(),
		resolved:       make(chan struct{}),
		bus:            EventBus.New(),
		topics:         make(map[uint64]string),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// State returns the current snapshot
func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// Resolved is closed once the session has left Resolving for any reason
func (s *Session) Resolved() <-chan struct{} {
	return s.resolved
}

// Start runs Initialize in the background
func (s *Session) Start(ctx context.Context) {
	go s.Initialize(ctx)
}

// Initialize resolves the stored session. It never fails: every problem resolves to Anonymous.
// The result is applied even if ctx is cancelled first, unless another transition happened meanwhile.
// Only the first call does any work.
func (s *Session) Initialize(ctx context.Context) State {
	s.mutex.Lock()
	if s.initialized {
		s.mutex.Unlock()
		return s.State()
	}
	s.initialized = true
	epoch := s.epoch
	s.mutex.Unlock()

	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.resolveTimeout)
	defer cancel()

	identity, fetched := s.resolve(resolveCtx)
	next := Anonymous()
	if identity != nil {
		next = Authenticated(*identity)
	}

	s.mutex.Lock()
	if s.epoch != epoch {
		s.mutex.Unlock()
		log.Debug().Msg("session changed while resolving, discarding start-up result")
		return s.State()
	}
	if fetched {
		if err := s.store.SaveIdentity(resolveCtx, *identity); err != nil {
			log.Err(err).Msg("failed to cache identity")
		}
	}
	s.setLocked(next)
	s.mutex.Unlock()

	s.deliver()
	return next
}

// resolve works out who the stored tokens belong to. fetched reports that the identity came
// from the identity endpoint and should be cached.
func (s *Session) resolve(ctx context.Context) (identity *users.Identity, fetched bool) {
	pair, err := s.store.Read(ctx)
	if err != nil {
		log.Err(err).Msg("failed to read token store")
		return nil, false
	}
	if pair == nil {
		return nil, false
	}

	claims, err := s.decoder.Decode(ctx, pair.AccessToken)
	if err != nil {
		log.Err(err).Msg("stored access token is malformed, clearing session")
		s.clearStore(ctx)
		return nil, false
	}
	if fromClaims, ok := claims.Identity(); ok {
		return &fromClaims, false
	}

	stored, err := s.store.ReadIdentity(ctx)
	if err != nil {
		log.Err(err).Msg("failed to read cached identity")
	}
	if stored != nil {
		return stored, false
	}

	if s.fetcher == nil {
		log.Warn().Msg("access token carries no identity and no identity fetcher is configured")
		return nil, false
	}
	fromServer, err := s.fetcher.FetchIdentity(ctx)
	switch {
	case err == nil:
		return &fromServer, true
	case rejected(err):
		log.Err(err).Msg("identity fetch rejected, clearing session")
		s.clearStore(ctx)
		return nil, false
	default:
		// Tokens are kept for the next start.
		log.Warn().Err(err).Msg("identity fetch failed, starting signed out")
		return nil, false
	}
}

// Login authenticates with the backend and stores the issued pair. The identity comes from the
// backend's response: the returned profile, else the token claims, else the identity endpoint.
// On failure the session is unchanged and ErrInvalidCredentials or ErrNetwork is returned.
// A logout that lands while the login is in flight wins and the issued pair is dropped.
func (s *Session) Login(ctx context.Context, creds users.Credentials) error {
	s.mutex.RLock()
	logouts := s.logouts
	s.mutex.RUnlock()

	resp, err := s.backend.Login(ctx, creds)
	if err != nil {
		log.Debug().Err(err).Str("email", creds.Email).Msg("login failed")
		return err
	}
	pair := token.Pair{AccessToken: resp.Access, RefreshToken: resp.Refresh}

	identity, err := s.loginIdentity(ctx, resp)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	if s.logouts != logouts {
		s.mutex.Unlock()
		return autherrors.Wrapf(autherrors.ErrSessionExpired, "[Session Login] logged out during login")
	}
	if err := s.store.SaveSession(ctx, pair, identity); err != nil {
		s.mutex.Unlock()
		return autherrors.Wrapf(err, "[Session Login] store session")
	}
	s.setLocked(Authenticated(identity))
	s.mutex.Unlock()

	log.Info().Str("email", identity.Email).Str("role", identity.Role.String()).Msg("logged in")
	s.deliver()
	return nil
}

func (s *Session) loginIdentity(ctx context.Context, resp backend.LoginResponse) (users.Identity, error) {
	if resp.User != nil && resp.User.Email != "" {
		return resp.User.Identity(), nil
	}

	claims, err := s.decoder.Decode(ctx, resp.Access)
	if err != nil {
		return users.Identity{}, autherrors.Wrapf(err, "[Session Login] decode access token")
	}
	if identity, ok := claims.Identity(); ok {
		return identity, nil
	}

	profile, err := s.backend.Me(ctx, resp.Access)
	if err != nil {
		return users.Identity{}, autherrors.Wrapf(err, "[Session Login] fetch identity")
	}
	return profile.Identity(), nil
}

// Logout clears the stored session. It is local only and cannot fail.
// It also cancels any login still in flight, even when the session is already Anonymous.
func (s *Session) Logout(ctx context.Context) {
	s.mutex.Lock()
	s.clearStore(ctx)
	s.logouts++
	changed := s.state.Status != StatusAnonymous
	if changed {
		s.setLocked(Anonymous())
	}
	s.mutex.Unlock()

	if changed {
		log.Info().Msg("logged out")
		s.deliver()
	}
}

// ForceExpire is Logout followed by navigation to the login entry point. The request pipeline
// calls it when a refresh is impossible.
func (s *Session) ForceExpire(ctx context.Context) {
	s.Logout(ctx)
	if s.navigator != nil {
		s.navigator.NavigateToLogin(ctx)
	}
}

// Register creates an account. It does not log in.
func (s *Session) Register(ctx context.Context, registration users.Registration) (string, error) {
	return s.backend.Register(ctx, registration)
}

func (s *Session) ForgotPassword(ctx context.Context, email string) (string, error) {
	return s.backend.ForgotPassword(ctx, email)
}

func (s *Session) ResetPassword(ctx context.Context, req backend.ResetPasswordRequest) (string, error) {
	return s.backend.ResetPassword(ctx, req)
}

// Subscribe calls fn with the new state after every transition, in transition order.
// Handlers may log in or out. They must not subscribe or unsubscribe from inside the callback.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.topicsMutex.Lock()
	s.nextTopic++
	id := s.nextTopic
	topic := fmt.Sprintf("%s:%d", stateTopic, id)
	s.topics[id] = topic
	s.topicsMutex.Unlock()

	if err := s.bus.Subscribe(topic, fn); err != nil {
		log.Err(err).Msg("failed to subscribe to session changes")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.topicsMutex.Lock()
			delete(s.topics, id)
			s.topicsMutex.Unlock()
			_ = s.bus.Unsubscribe(topic, fn)
		})
	}
}

func (s *Session) publish(state State) {
	s.topicsMutex.Lock()
	ids := make([]uint64, 0, len(s.topics))
	for id := range s.topics {
		ids = append(ids, id)
	}
	topics := make([]string, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		topics = append(topics, s.topics[id])
	}
	s.topicsMutex.Unlock()

	for _, topic := range topics {
		s.publishTopic(topic, state)
	}
}

// publishTopic keeps a panicking subscriber from stalling delivery to everyone else
func (s *Session) publishTopic(topic string, state State) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("session subscriber panicked: %v", r)
		}
	}()
	s.bus.Publish(topic, state)
}

// setLocked applies a transition and queues its notification. Callers hold s.mutex and
// call deliver once they have released it.
func (s *Session) setLocked(next State) {
	s.state = next
	s.epoch++
	if next.Status != StatusResolving {
		s.resolvedOnce.Do(func() { close(s.resolved) })
	}

	s.notifyMutex.Lock()
	s.pending = append(s.pending, notification{epoch: s.epoch, state: next})
	s.notifyMutex.Unlock()
}

// deliver publishes queued notifications one at a time. Only one goroutine drains the queue;
// a transition made while it is draining, including one made by a subscriber, is left for
// that goroutine, so no caller ever waits on the event bus it is being called from.
func (s *Session) deliver() {
	s.notifyMutex.Lock()
	if s.draining {
		s.notifyMutex.Unlock()
		return
	}
	s.draining = true

	for {
		if len(s.pending) == 0 {
			s.draining = false
			s.notifyMutex.Unlock()
			return
		}
		n := s.pending[0]
		s.pending = s.pending[1:]
		if n.epoch <= s.delivered {
			continue
		}
		s.delivered = n.epoch
		s.notifyMutex.Unlock()
		s.publish(n.state)
		s.notifyMutex.Lock()
	}
}

// rejected reports whether the backend refused the stored tokens, as opposed to being unreachable
func rejected(err error) bool {
	if autherrors.Is(err, autherrors.ErrSessionExpired) {
		return true
	}
	var apiErr *httpclient.APIError
	return autherrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

func (s *Session) clearStore(ctx context.Context) {
	if err := s.store.Clear(ctx); err != nil {
		log.Err(err).Msg("failed to clear token store")
	}
}
