package dashboard

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-dashboard-session/backend"
	"github.com/jrsteele09/go-dashboard-session/guard"
	"github.com/jrsteele09/go-dashboard-session/httpclient"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/navigation"
	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/rs/zerolog/log"
)

// LoginPageData is rendered by login.html
type LoginPageData struct {
	AppName string
	Email   string
	Next    string
	Error   string
	Expired bool
}

type hiddenField struct {
	Name  string
	Value string
}

// AccountPageData is rendered by account.html for register, forgot and reset password
type AccountPageData struct {
	AppName     string
	Title       string
	Action      string
	Submit      string
	Message     string
	Error       string
	Email       string
	AskEmail    bool
	AskPassword bool
	AskRole     bool
	Hidden      []hiddenField
}

// AppPageData is rendered by app.html
type AppPageData struct {
	AppName string
	Title   string
	Email   string
	Role    string
	Menu    []navigation.Node
	Profile *navigation.Node
}

// SessionResponse is the JSON view of the session state
type SessionResponse struct {
	Status string `json:"status"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// MenuResponse is the JSON view of the visible menu
type MenuResponse struct {
	Main    []navigation.Node `json:"main"`
	Profile *navigation.Node  `json:"profile,omitempty"`
}

func mustParse(name string) *template.Template {
	tmpl, err := ParseTemplate(name)
	if err != nil {
		log.Err(err).Str("template", name).Msg("Failed to parse template")
	}
	return tmpl
}

func render(w http.ResponseWriter, tmpl *template.Template, name string, status int, data any) {
	if tmpl == nil {
		http.Error(w, "template unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Err(err).Str("template", name).Msg("Failed to render template")
	}
}

func writeJSON(w http.ResponseWriter, body any, status int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, detail string, status int) {
	writeJSON(w, backend.ErrorResponse{Detail: detail}, status)
}

// userMessage turns an action error into the text shown next to the form
func userMessage(err error) string {
	if autherrors.UserFacing(err) {
		switch {
		case autherrors.Is(err, autherrors.ErrInvalidCredentials):
			return "Invalid email or password."
		case autherrors.Is(err, autherrors.ErrNetwork):
			return "Cannot reach the server. Please try again."
		default:
			msg := err.Error()
			if i := strings.Index(msg, "] "); i >= 0 {
				msg = msg[i+2:]
			}
			return strings.TrimSuffix(msg, ": "+autherrors.ErrInvalidRegistration.Error())
		}
	}
	var apiErr *backend.Error
	if autherrors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return "Something went wrong. Please try again."
}

func (s *Shell) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, guard.RouteHome, http.StatusSeeOther)
	}
}

func (s *Shell) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}

func (s *Shell) LoginPageHandler() http.HandlerFunc {
	tmpl := mustParse("login.html")
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, tmpl, "login.html", http.StatusOK, LoginPageData{
			AppName: s.app.Config.GetAppName(),
			Email:   r.URL.Query().Get("email"),
			Next:    r.URL.Query().Get("next"),
			Expired: s.notice.Take(),
		})
	}
}

func (s *Shell) LoginSubmissionHandler() http.HandlerFunc {
	tmpl := mustParse("login.html")
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		creds := users.Credentials{Email: r.FormValue("email"), Password: r.FormValue("password")}
		next := r.FormValue("next")

		if err := s.app.Session.Login(r.Context(), creds); err != nil {
			status := http.StatusUnauthorized
			if autherrors.Is(err, autherrors.ErrNetwork) {
				status = http.StatusBadGateway
			}
			render(w, tmpl, "login.html", status, LoginPageData{
				AppName: s.app.Config.GetAppName(),
				Email:   creds.Email,
				Next:    next,
				Error:   userMessage(err),
			})
			return
		}
		http.Redirect(w, r, guard.SafeReturnTo(next), http.StatusSeeOther)
	}
}

func (s *Shell) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.app.Session.Logout(r.Context())
		http.Redirect(w, r, guard.RouteLogin, http.StatusSeeOther)
	}
}

func (s *Shell) registerPage() AccountPageData {
	return AccountPageData{
		AppName:     s.app.Config.GetAppName(),
		Title:       "Create an account",
		Action:      guard.RouteRegister,
		Submit:      "Register",
		AskEmail:    true,
		AskPassword: true,
		AskRole:     true,
	}
}

func (s *Shell) RegisterPageHandler() http.HandlerFunc {
	tmpl := mustParse("account.html")
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, tmpl, "account.html", http.StatusOK, s.registerPage())
	}
}

func (s *Shell) RegisterSubmissionHandler() http.HandlerFunc {
	tmpl := mustParse("account.html")
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		registration := users.Registration{
			Email:    r.FormValue("email"),
			Password: r.FormValue("password"),
			Role:     users.Role(strings.ToLower(r.FormValue("role"))),
		}
		if _, err := s.app.Session.Register(r.Context(), registration); err != nil {
			data := s.registerPage()
			data.Email = registration.Email
			data.Error = userMessage(err)
			render(w, tmpl, "account.html", http.StatusBadRequest, data)
			return
		}
		http.Redirect(w, r, guard.RouteLogin+"?email="+url.QueryEscape(registration.Email), http.StatusSeeOther)
	}
}

func (s *Shell) forgotPasswordPage() AccountPageData {
	return AccountPageData{
		AppName:  s.app.Config.GetAppName(),
		Title:    "Reset your password",
		Action:   guard.RouteForgotPassword,
		Submit:   "Send reset link",
		AskEmail: true,
	}
}

func (s *Shell) ForgotPasswordPageHandler() http.HandlerFunc {
	tmpl := mustParse("account.html")
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, tmpl, "account.html", http.StatusOK, s.forgotPasswordPage())
	}
}

func (s *Shell) ForgotPasswordSubmissionHandler() http.HandlerFunc {
	tmpl := mustParse("account.html")
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		data := s.forgotPasswordPage()
		data.Email = r.FormValue("email")
		msg, err := s.app.Session.ForgotPassword(r.Context(), data.Email)
		if err != nil {
			data.Error = userMessage(err)
			render(w, tmpl, "account.html", http.StatusBadRequest, data)
			return
		}
		data.Message = msg
		render(w, tmpl, "account.html", http.StatusOK, data)
	}
}

func (s *Shell) resetPasswordPage(uid, resetToken string) AccountPageData {
	return AccountPageData{
		AppName:     s.app.Config.GetAppName(),
		Title:       "Choose a new password",
		Action:      guard.RouteResetPassword,
		Submit:      "Reset password",
		AskPassword: true,
		Hidden:      []hiddenField{{Name: "uid", Value: uid}, {Name: "token", Value: resetToken}},
	}
}

func (s *Shell) ResetPasswordPageHandler() http.HandlerFunc {
	tmpl := mustParse("account.html")
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, tmpl, "account.html", http.StatusOK, s.resetPasswordPage(r.URL.Query().Get("uid"), r.URL.Query().Get("token")))
	}
}

func (s *Shell) ResetPasswordSubmissionHandler() http.HandlerFunc {
	tmpl := mustParse("account.html")
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		req := backend.ResetPasswordRequest{
			UID:         r.FormValue("uid"),
			Token:       r.FormValue("token"),
			NewPassword: r.FormValue("password"),
		}
		if _, err := s.app.Session.ResetPassword(r.Context(), req); err != nil {
			data := s.resetPasswordPage(req.UID, req.Token)
			data.Error = userMessage(err)
			render(w, tmpl, "account.html", http.StatusBadRequest, data)
			return
		}
		http.Redirect(w, r, guard.RouteLogin, http.StatusSeeOther)
	}
}

func (s *Shell) AppPageHandler() http.HandlerFunc {
	tmpl := mustParse("app.html")
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.app.Session.State()
		main, profile := navigation.Split(navigation.Filter(navigation.DefaultTree(), state))
		render(w, tmpl, "app.html", http.StatusOK, AppPageData{
			AppName: s.app.Config.GetAppName(),
			Title:   pageTitle(r.URL.Path, navigation.Flatten(main), profile),
			Email:   state.Email(),
			Role:    state.Role().String(),
			Menu:    main,
			Profile: profile,
		})
	}
}

func pageTitle(path string, visible []navigation.Node, profile *navigation.Node) string {
	if profile != nil && profile.Path == path {
		return profile.Label
	}
	for _, n := range visible {
		if n.Path == path {
			return n.Label
		}
	}
	return "Not found"
}

func (s *Shell) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.app.Session.State()
		resp := SessionResponse{Status: state.Status.String()}
		if state.IsAuthenticated() {
			resp.Email = state.Email()
			resp.Role = state.Role().String()
		}
		writeJSON(w, resp, http.StatusOK)
	}
}

func (s *Shell) MenuHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		main, profile := navigation.Split(navigation.Filter(navigation.DefaultTree(), s.app.Session.State()))
		writeJSON(w, MenuResponse{Main: main, Profile: profile}, http.StatusOK)
	}
}

// ProxyHandler forwards GET /api/proxy/<path> to the backend's /api/<path> through the request pipeline
func (s *Shell) ProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := proxyBackendRoot + r.PathValue("path")
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		var body json.RawMessage
		err := s.app.Client.GetJSON(r.Context(), path, &body)
		var apiErr *httpclient.APIError
		switch {
		case err == nil:
			writeJSON(w, body, http.StatusOK)
		case autherrors.Is(err, autherrors.ErrSessionExpired):
			writeDetail(w, "Session expired, please sign in again.", http.StatusUnauthorized)
		case autherrors.Is(err, autherrors.ErrNetwork):
			writeDetail(w, "Cannot reach the server.", http.StatusBadGateway)
		case autherrors.As(err, &apiErr):
			w.Header().Set("Content-Type", contentTypeJSON)
			w.WriteHeader(apiErr.StatusCode)
			_, _ = w.Write(apiErr.Body)
		default:
			log.Err(err).Str("path", path).Msg("proxy request failed")
			writeDetail(w, "Request failed.", http.StatusInternalServerError)
		}
	}
}

// requireAPISession is the JSON flavour of the guard: no redirects, just status codes
func requireAPISession(source guard.StateSource, required users.Roles) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			d := guard.Evaluate(required, source.State(), r.URL.RequestURI())
			switch d.Kind {
			case guard.Allow:
				next(w, r)
			case guard.Defer:
				w.Header().Set("Retry-After", guard.RetryAfterSeconds)
				writeDetail(w, "Session is still loading.", http.StatusServiceUnavailable)
			case guard.DenyToLogin:
				writeDetail(w, "Authentication credentials were not provided.", http.StatusUnauthorized)
			default:
				writeDetail(w, "You do not have permission to perform this action.", http.StatusForbidden)
			}
		}
	}
}

var _ guard.StateSource = (*session.Session)(nil)
