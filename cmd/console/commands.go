package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jrsteele09/go-dashboard-session/backend"
	"github.com/jrsteele09/go-dashboard-session/backend/backendfake"
	"github.com/jrsteele09/go-dashboard-session/guard"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/navigation"
	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/rs/zerolog/log"
)

// Accounts seeded into the demo backend
var demoAccounts = []struct {
	email, password, role string
}{
	{"admin@example.com", "Bosun#2024", "admin"},
	{"operator@example.com", "Harbour#2024", "operator"},
	{"analyst@example.com", "Tideline#77", "analyst"},
}

// startDemoBackend serves the fake backend on loopback. Its signing key changes on every start.
func startDemoBackend() (string, func(), error) {
	fake := backendfake.New()
	for _, a := range demoAccounts {
		if _, err := fake.AddUser(a.email, a.password, a.role); err != nil {
			return "", nil, err
		}
	}
	srv := fake.Start()
	log.Info().Str("url", srv.URL).Msg("demo backend started")
	return srv.URL, srv.Close, nil
}

// describeRoute explains what the guards would do with path for the given state
func describeRoute(table *guard.Table, path string, state session.State) string {
	d := table.Evaluate(path, state)
	if d.Allowed() {
		if !table.IsProtected(path) {
			return path + ": public"
		}
		return fmt.Sprintf("%s: %s", path, d.Kind)
	}
	return fmt.Sprintf("%s: %s -> %s", path, d.Kind, d.Location())
}

func execute(c config.Config, demo bool, command string, args []string) error {
	if command == "serve" {
		serve(c, demo)
		return nil
	}

	ctx := context.Background()
	app, cleanup, err := newApp(ctx, c, demo)
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("DASHBOARD_PASSWORD"), "account password")
	role := fs.String("role", string(users.RoleOperator), "role to register as")
	uid := fs.String("uid", "", "uid from the reset link")
	resetToken := fs.String("token", "", "token from the reset link")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch command {
	case "login":
		if err := app.Session.Login(ctx, users.Credentials{Email: *email, Password: *password}); err != nil {
			return describe(err)
		}
		state := app.Session.State()
		fmt.Printf("Signed in as %s (%s)\n", state.Email(), state.Role())
	case "logout":
		app.Session.Logout(ctx)
		fmt.Println("Signed out")
	case "whoami":
		state := app.Session.State()
		printJSON(sessionView(state.Status.String(), state.Email(), state.Role()))
	case "menu":
		entries, profile := navigation.Split(navigation.Filter(navigation.DefaultTree(), app.Session.State()))
		printMenu(entries, "")
		if profile != nil {
			fmt.Printf("[%s] %s\n", profile.Label, profile.Path)
		}
	case "check":
		path := fs.Arg(0)
		if path == "" {
			return fmt.Errorf("check needs a path")
		}
		fmt.Println(describeRoute(guard.DefaultTable(), path, app.Session.State()))
	case "get":
		path := fs.Arg(0)
		if path == "" {
			return fmt.Errorf("get needs a path")
		}
		var body json.RawMessage
		if err := app.Client.GetJSON(ctx, path, &body); err != nil {
			return describe(err)
		}
		printJSON(body)
	case "register":
		msg, err := app.Session.Register(ctx, users.Registration{Email: *email, Password: *password, Role: users.Role(strings.ToLower(*role))})
		if err != nil {
			return describe(err)
		}
		fmt.Println(msg)
	case "forgot":
		msg, err := app.Session.ForgotPassword(ctx, *email)
		if err != nil {
			return describe(err)
		}
		fmt.Println(msg)
	case "reset":
		msg, err := app.Session.ResetPassword(ctx, backend.ResetPasswordRequest{UID: *uid, Token: *resetToken, NewPassword: *password})
		if err != nil {
			return describe(err)
		}
		fmt.Println(msg)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// describe keeps user-facing errors short and leaves the rest wrapped for the log
func describe(err error) error {
	switch {
	case autherrors.Is(err, autherrors.ErrInvalidCredentials):
		return autherrors.ErrInvalidCredentials
	case autherrors.Is(err, autherrors.ErrNetwork):
		return fmt.Errorf("cannot reach the server: %w", autherrors.ErrNetwork)
	case autherrors.Is(err, autherrors.ErrSessionExpired):
		return fmt.Errorf("not signed in: %w", autherrors.ErrSessionExpired)
	}
	return err
}

func sessionView(status, email string, role users.Role) map[string]string {
	view := map[string]string{"status": status}
	if email != "" {
		view["email"] = email
		view["role"] = role.String()
	}
	return view
}

func printMenu(nodes []navigation.Node, indent string) {
	for _, n := range nodes {
		if n.Path != "" {
			fmt.Printf("%s%s %s\n", indent, n.Label, n.Path)
		} else {
			fmt.Printf("%s%s\n", indent, n.Label)
		}
		printMenu(n.Children, indent+"  ")
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Err(err).Msg("failed to encode output")
		return
	}
	fmt.Println(string(out))
}
