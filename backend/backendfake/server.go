// Package backendfake is an in-process stand-in for the dashboard backend, used by tests and
// by the console's offline demo mode.
package backendfake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-dashboard-session/backend"
	"github.com/jrsteele09/go-dashboard-session/users"
)

// VesselsPath is a protected resource served by the fake.
const VesselsPath = "/api/vessels/"

// EchoPath is a protected resource that echoes the JSON body it receives.
const EchoPath = "/api/echo/"

const contentTypeJSON = "application/json"

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
}

type Vessel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	IMO  string `json:"imo"`
}

type resetLink struct {
	UID   string
	Token string
}

// Server implements the backend endpoints over an in-memory user table.
type Server struct {
	creator        *creator
	includeProfile bool
	refreshDelay   time.Duration
	resourceDelay  time.Duration

	users      map[string]*User
	nextID     int64
	resetLinks map[string]resetLink
	mutex      sync.RWMutex

	loginCalls    atomic.Int64
	refreshCalls  atomic.Int64
	meCalls       atomic.Int64
	resourceCalls atomic.Int64

	mux *http.ServeMux
}

type Option func(*Server)

// WithSigner replaces the default HMAC signer
func WithSigner(signer Signer) Option {
	return func(s *Server) {
		s.creator.signer = signer
	}
}

func WithIssuer(issuer string) Option {
	return func(s *Server) {
		s.creator.issuer = issuer
	}
}

func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.creator.accessTTL = ttl
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.creator.refreshTTL = ttl
	}
}

// WithoutProfile omits the user object from login responses
func WithoutProfile() Option {
	return func(s *Server) {
		s.includeProfile = false
	}
}

// WithoutIdentityClaims issues access tokens without email and role claims
func WithoutIdentityClaims() Option {
	return func(s *Server) {
		s.creator.identityClaim = false
	}
}

// WithRefreshDelay slows the refresh endpoint so concurrent callers overlap
func WithRefreshDelay(delay time.Duration) Option {
	return func(s *Server) {
		s.refreshDelay = delay
	}
}

// WithResourceDelay slows the protected resources
func WithResourceDelay(delay time.Duration) Option {
	return func(s *Server) {
		s.resourceDelay = delay
	}
}

func New(options ...Option) *Server {
	s := &Server{
		creator: &creator{
			signer:        NewHMACSigner(uuid.NewString()),
			accessTTL:     5 * time.Minute,
			refreshTTL:    24 * time.Hour,
			identityClaim: true,
			refreshBytes:  32,
			repo:          newRefreshRepo(),
		},
		includeProfile: true,
		users:          make(map[string]*User),
		resetLinks:     make(map[string]resetLink),
		mux:            http.NewServeMux(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.mux.HandleFunc("POST "+backend.LoginPath, s.Login())
	s.mux.HandleFunc("POST "+backend.RefreshPath, s.Refresh())
	s.mux.HandleFunc("GET "+backend.MePath, s.requireAccess(s.Me()))
	s.mux.HandleFunc("POST "+backend.RegisterPath, s.Register())
	s.mux.HandleFunc("POST "+backend.ForgotPasswordPath, s.ForgotPassword())
	s.mux.HandleFunc("POST "+backend.ResetPasswordPath, s.ResetPassword())
	s.mux.HandleFunc("GET "+VesselsPath, s.requireAccess(s.Vessels()))
	s.mux.HandleFunc("POST "+EchoPath, s.requireAccess(s.Echo()))
	return s
}

// Start serves the fake on a loopback listener. Callers close the returned server.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// AddUser registers an account with a bcrypt password hash
func (s *Server) AddUser(email, password, role string) (*User, error) {
	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nextID++
	user := &User{ID: s.nextID, Email: strings.ToLower(email), PasswordHash: hash, Role: role}
	s.users[user.Email] = user
	return user, nil
}

// IssueAccessToken mints an access token for email with the given lifetime. A negative ttl yields an expired token.
func (s *Server) IssueAccessToken(email string, ttl time.Duration) (string, error) {
	user, ok := s.userByEmail(email)
	if !ok {
		return "", errTokenNotFound
	}
	return s.creator.CreateAccessToken(user, ttl)
}

// RevokeRefreshTokens invalidates every issued refresh token
func (s *Server) RevokeRefreshTokens() {
	s.creator.repo.DeleteAll()
}

// ResetLink returns the uid and token emailed by the last forgot-password request for email
func (s *Server) ResetLink(email string) (string, string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	link, ok := s.resetLinks[strings.ToLower(email)]
	return link.UID, link.Token, ok
}

func (s *Server) LoginCalls() int64    { return s.loginCalls.Load() }
func (s *Server) RefreshCalls() int64  { return s.refreshCalls.Load() }
func (s *Server) MeCalls() int64       { return s.meCalls.Load() }
func (s *Server) ResourceCalls() int64 { return s.resourceCalls.Load() }

func (s *Server) userByEmail(email string) (*User, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, false
	}
	clone := *u
	return &clone, true
}

func (s *Server) userByID(id int64) (*User, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			clone := *u
			return &clone, true
		}
	}
	return nil, false
}

func (s *Server) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.loginCalls.Add(1)
		var creds users.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			writeDetail(w, "malformed request body", http.StatusBadRequest)
			return
		}
		user, ok := s.userByEmail(creds.Email)
		if !ok || !users.CheckPasswordHash(creds.Password, user.PasswordHash) {
			writeDetail(w, "No active account found with the given credentials", http.StatusUnauthorized)
			return
		}

		access, err := s.creator.CreateAccessToken(user, s.creator.accessTTL)
		if err != nil {
			writeDetail(w, err.Error(), http.StatusInternalServerError)
			return
		}
		refresh, err := s.creator.CreateRefreshToken(user)
		if err != nil {
			writeDetail(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := backend.LoginResponse{Access: access, Refresh: refresh}
		if s.includeProfile {
			resp.User = &backend.Profile{ID: user.ID, Email: user.Email, Role: user.Role}
		}
		writeJSON(w, resp, http.StatusOK)
	}
}

func (s *Server) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		if s.refreshDelay > 0 {
			time.Sleep(s.refreshDelay)
		}

		var req backend.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
			writeFieldError(w, "refresh", "This field is required.")
			return
		}
		userID, err := s.creator.Redeem(req.Refresh)
		if err != nil {
			writeDetail(w, "Token is invalid or expired", http.StatusUnauthorized)
			return
		}
		user, ok := s.userByID(userID)
		if !ok {
			writeDetail(w, "Token is invalid or expired", http.StatusUnauthorized)
			return
		}
		access, err := s.creator.CreateAccessToken(user, s.creator.accessTTL)
		if err != nil {
			writeDetail(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, backend.RefreshResponse{Access: access}, http.StatusOK)
	}
}

func (s *Server) Me() authedHandler {
	return func(w http.ResponseWriter, r *http.Request, user *User) {
		s.meCalls.Add(1)
		writeJSON(w, backend.Profile{ID: user.ID, Email: user.Email, Role: user.Role}, http.StatusOK)
	}
}

func (s *Server) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reg users.Registration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			writeDetail(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if reg.Role != users.RoleOperator && reg.Role != users.RoleAnalyst {
			writeFieldError(w, "role", "Invalid role. Must be operator or analyst.")
			return
		}
		if _, exists := s.userByEmail(reg.Email); exists {
			writeFieldError(w, "email", "user with this email already exists.")
			return
		}
		if _, err := s.AddUser(reg.Email, reg.Password, string(reg.Role)); err != nil {
			writeDetail(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, backend.MessageResponse{Message: "User registered successfully"}, http.StatusCreated)
	}
}

func (s *Server) ForgotPassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backend.ForgotPasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, "malformed request body", http.StatusBadRequest)
			return
		}
		// Unknown addresses get the same answer so accounts cannot be enumerated.
		if user, ok := s.userByEmail(req.Email); ok {
			s.mutex.Lock()
			s.resetLinks[user.Email] = resetLink{UID: strconv.FormatInt(user.ID, 10), Token: uuid.NewString()}
			s.mutex.Unlock()
		}
		writeJSON(w, backend.MessageResponse{Message: "Password reset link sent"}, http.StatusOK)
	}
}

func (s *Server) ResetPassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backend.ResetPasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, "malformed request body", http.StatusBadRequest)
			return
		}

		s.mutex.Lock()
		defer s.mutex.Unlock()
		for email, link := range s.resetLinks {
			if link.UID != req.UID || link.Token != req.Token {
				continue
			}
			hash, err := users.HashPassword(req.NewPassword)
			if err != nil {
				writeDetail(w, err.Error(), http.StatusInternalServerError)
				return
			}
			s.users[email].PasswordHash = hash
			delete(s.resetLinks, email)
			writeJSON(w, backend.MessageResponse{Message: "Password has been reset successfully"}, http.StatusOK)
			return
		}
		writeDetail(w, "Invalid or expired token", http.StatusBadRequest)
	}
}

func (s *Server) Vessels() authedHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *User) {
		writeJSON(w, []Vessel{
			{ID: 1, Name: "Nordic Aurora", IMO: "9321483"},
			{ID: 2, Name: "Pacific Meridian", IMO: "9456021"},
		}, http.StatusOK)
	}
}

func (s *Server) Echo() authedHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *User) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeDetail(w, "malformed request body", http.StatusBadRequest)
			return
		}
		writeJSON(w, body, http.StatusOK)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user *User)

// requireAccess rejects requests without a valid, unexpired bearer token with 401
func (s *Server) requireAccess(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != backend.MePath {
			s.resourceCalls.Add(1)
			if s.resourceDelay > 0 {
				time.Sleep(s.resourceDelay)
			}
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeDetail(w, "Authentication credentials were not provided.", http.StatusUnauthorized)
			return
		}
		claims, err := s.creator.ParseAccessToken(parts[1])
		if err != nil {
			writeDetail(w, "Given token not valid for any token type", http.StatusUnauthorized)
			return
		}
		userID, _ := claims["user_id"].(float64)
		user, ok := s.userByID(int64(userID))
		if !ok {
			writeDetail(w, "User not found", http.StatusUnauthorized)
			return
		}
		next(w, r, user)
	}
}

func writeJSON(w http.ResponseWriter, body any, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, detail string, statusCode int) {
	writeJSON(w, backend.ErrorResponse{Detail: detail}, statusCode)
}

func writeFieldError(w http.ResponseWriter, field, msg string) {
	writeJSON(w, map[string][]string{field: {msg}}, http.StatusBadRequest)
}
