package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-dashboard-session/dashboard"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/tokenstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: console [-demo] <command> [flags]

commands:
  login     -email -password      sign in and store the session
  logout                          clear the stored session
  whoami                          print the session state
  menu                            print the menu visible to the current role
  check     <path>                evaluate the route guard for a path
  get       <path>                GET a backend resource through the session
  register  -email -password -role
  forgot    -email
  reset     -uid -token -password
  serve                           run the guarded web shell on SHELL_PORT
`

func main() {
	demo := flag.Bool("demo", false, "run against an in-process demo backend")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := config.New()
	configureLogging(c.GetEnv())

	if err := execute(c, *demo, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Err(err).Str("command", flag.Arg(0)).Msg("command failed")
		os.Exit(1)
	}
}

func configureLogging(env string) {
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// newApp wires the session subsystem and resolves the stored session
func newApp(ctx context.Context, c config.Config, demo bool) (*dashboard.App, func(), error) {
	options := []dashboard.Option{}
	stopDemo := func() {}
	if demo {
		baseURL, stop, err := startDemoBackend()
		if err != nil {
			return nil, nil, err
		}
		// Demo tokens are useless after this process exits, keep them out of the configured store.
		options = append(options, dashboard.WithAPIBaseURL(baseURL), dashboard.WithStore(tokenstore.New(tokenstore.NewMemory())))
		stopDemo = stop
	}

	app, err := dashboard.New(ctx, c, options...)
	if err != nil {
		stopDemo()
		return nil, nil, err
	}
	app.Session.Initialize(ctx)

	cleanup := func() {
		if err := app.Close(context.Background()); err != nil {
			log.Err(err).Msg("failed to close token store")
		}
		stopDemo()
	}
	return app, cleanup, nil
}

func serve(c config.Config, demo bool) {
	for {
		if err := run(c, demo); err != nil {
			log.Err(err).Msg("Error running shell")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Shell stopped")
}

func run(c config.Config, demo bool) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v\n%s", r, debug.Stack())
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(c.GetAppName())

	notice := &dashboard.ExpiryNotice{}
	options := []dashboard.Option{dashboard.WithNavigator(notice)}
	stopDemo := func() {}
	if demo {
		baseURL, stop, err := startDemoBackend()
		if err != nil {
			return err
		}
		options = append(options, dashboard.WithAPIBaseURL(baseURL), dashboard.WithStore(tokenstore.New(tokenstore.NewMemory())))
		stopDemo = stop
	}
	defer stopDemo()

	app, err := dashboard.New(context.Background(), c, options...)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	app.Session.Start(context.Background())

	server := &http.Server{Addr: c.GetShellPort(), Handler: dashboard.NewShell(app, notice)}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(server) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Shell listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
