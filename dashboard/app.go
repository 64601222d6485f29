// Package dashboard wires the session subsystem together from configuration and serves
// the local guarded shell.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jrsteele09/go-dashboard-session/backend"
	"github.com/jrsteele09/go-dashboard-session/httpclient"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/tokenstore"
	"github.com/rs/zerolog/log"
)

// App is one process's session subsystem. There is exactly one per process.
type App struct {
	Config  config.Config
	Store   *tokenstore.TokenStore
	API     *backend.Client
	Client  *httpclient.Client
	Session *session.Session

	apiBaseURL string
	navigator  session.Navigator
}

type Option func(*App)

// WithStore replaces the configured token store
func WithStore(store *tokenstore.TokenStore) Option {
	return func(a *App) {
		a.Store = store
	}
}

// WithAPIBaseURL overrides API_BASE_URL
func WithAPIBaseURL(baseURL string) Option {
	return func(a *App) {
		a.apiBaseURL = baseURL
	}
}

func WithNavigator(navigator session.Navigator) Option {
	return func(a *App) {
		a.navigator = navigator
	}
}

// New builds the store, the backend client, the request pipeline and the session, and links
// the pipeline's expiry path to the session. The session still has to be initialized.
func New(ctx context.Context, cfg config.Config, options ...Option) (*App, error) {
	a := &App{
		Config:     cfg,
		apiBaseURL: cfg.GetAPIBaseURL(),
		navigator:  NewConsoleNavigator(os.Stderr),
	}
	for _, opt := range options {
		opt(a)
	}

	if a.Store == nil {
		store, err := tokenstore.Open(tokenstore.ConfigFromEnv(cfg))
		if err != nil {
			return nil, fmt.Errorf("[Dashboard New] failed to open token store: %w", err)
		}
		a.Store = store
	}

	decoderOptions := []token.DecoderOption{}
	if jwksURL := cfg.GetJWKSURL(); jwksURL != "" {
		decoderOptions = append(decoderOptions, token.WithVerifier(token.NewRemoteVerifier(ctx, cfg.GetTokenIssuer(), jwksURL)))
	}

	a.API = backend.New(a.apiBaseURL, backend.WithTimeout(cfg.GetRequestTimeout()))
	a.Client = httpclient.New(a.apiBaseURL, a.Store, a.API,
		httpclient.WithTimeout(cfg.GetRequestTimeout()),
		httpclient.WithRefreshTimeout(cfg.GetRefreshTimeout()),
	)
	a.Session = session.New(a.Store, a.API,
		session.WithIdentityFetcher(a.Client),
		session.WithDecoder(token.NewDecoder(decoderOptions...)),
		session.WithNavigator(a.navigator),
		session.WithResolveTimeout(cfg.GetResolveTimeout()),
	)
	a.Client.SetExpirer(a.Session)

	log.Debug().Str("api", a.apiBaseURL).Str("store", cfg.GetTokenStoreDriver()).Msg("dashboard session wired")
	return a, nil
}

func (a *App) Close(ctx context.Context) error {
	return a.Store.Close(ctx)
}

// ConsoleNavigator tells a terminal user to sign in again
type ConsoleNavigator struct {
	out io.Writer
}

func NewConsoleNavigator(out io.Writer) *ConsoleNavigator {
	return &ConsoleNavigator{out: out}
}

func (n *ConsoleNavigator) NavigateToLogin(context.Context) {
	fmt.Fprintln(n.out, "Your session has expired, please sign in again.")
}
