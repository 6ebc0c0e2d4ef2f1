package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/client"
	"github.com/goliatone/go-gatekeeper/internal/app"
	"github.com/goliatone/go-gatekeeper/keychain"
)

func serveCmd(ctx context.Context, env *cliEnv, _ []string) error {
	a, err := app.New(ctx, env.cfg, env.logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func privilegeCmd(privileged bool) command {
	return adminCmd(func(ctx context.Context, store *gatekeeper.PrincipalStore, identifier string) (*gatekeeper.Principal, error) {
		return store.SetPrivileged(ctx, identifier, privileged)
	})
}

func statusCmd(disabled bool) command {
	return adminCmd(func(ctx context.Context, store *gatekeeper.PrincipalStore, identifier string) (*gatekeeper.Principal, error) {
		return store.SetDisabled(ctx, identifier, disabled)
	})
}

type adminUpdate func(ctx context.Context, store *gatekeeper.PrincipalStore, identifier string) (*gatekeeper.Principal, error)

// adminCmd opens the database directly, so it works without a running server
func adminCmd(update adminUpdate) command {
	return func(ctx context.Context, env *cliEnv, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one email or id")
		}

		db, err := gatekeeper.OpenSQLite(env.cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := gatekeeper.Migrate(ctx, db); err != nil {
			return err
		}

		audit := gatekeeper.ActivitySinkFunc(func(_ context.Context, event gatekeeper.ActivityEvent) error {
			args := []any{"event", event.EventType, "user_id", event.UserID}
			for k, v := range event.Metadata {
				args = append(args, k, v)
			}
			env.logger.Info("principal updated", args...)
			return nil
		})

		store := gatekeeper.NewPrincipalStore(gatekeeper.NewRepositoryManager(db)).
			WithLogger(gatekeeper.NewSlogLogger(env.logger)).
			WithActivitySink(audit)

		principal, err := update(ctx, store, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(env.out, "%s privileged=%t disabled=%t\n", principal.Email, principal.IsPrivileged, principal.Disabled)
		return nil
	}
}

func signUpCmd(ctx context.Context, env *cliEnv, args []string) error {
	return credentialsCmd(ctx, env, args, func(s *gatekeeper.Sessions, email, password string) (*gatekeeper.AuthResult, error) {
		return s.SignUp(ctx, email, password)
	})
}

func signInCmd(ctx context.Context, env *cliEnv, args []string) error {
	return credentialsCmd(ctx, env, args, func(s *gatekeeper.Sessions, email, password string) (*gatekeeper.AuthResult, error) {
		return s.SignIn(ctx, email, password)
	})
}

func credentialsCmd(ctx context.Context, env *cliEnv, args []string, do func(*gatekeeper.Sessions, string, string) (*gatekeeper.AuthResult, error)) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one email")
	}

	sessions, _, err := clientSessions(env)
	if err != nil {
		return err
	}

	password, err := promptPassword(env)
	if err != nil {
		return err
	}

	res, err := do(sessions, args[0], password)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.out, "signed in as %s (%s), access token expires %s\n",
		res.Principal.Email,
		res.Principal.ID,
		res.Tokens.Access.Claims.ExpiresAt.Format("2006-01-02 15:04:05 MST"),
	)
	return nil
}

func signOutCmd(ctx context.Context, env *cliEnv, _ []string) error {
	sessions, _, err := clientSessions(env)
	if err != nil {
		return err
	}

	// a fresh access token lets the server record the sign-out
	if _, err := sessions.Refresh(ctx, ""); err != nil {
		env.logger.Debug("no usable session to refresh", "error", err)
	}

	if err := sessions.SignOut(ctx); err != nil {
		return err
	}

	fmt.Fprintln(env.out, "signed out")
	return nil
}

func whoAmICmd(ctx context.Context, env *cliEnv, _ []string) error {
	sessions, vault, err := clientSessions(env)
	if err != nil {
		return err
	}

	if _, err := sessions.Refresh(ctx, ""); err != nil {
		env.logger.Debug("refresh failed", "error", err)
	}

	principal, err := sessions.CurrentUser(ctx)
	if err != nil {
		return err
	}

	if principal == nil {
		if email, ok, _ := vault.Load(ctx, keychain.KeyUserEmail); ok {
			fmt.Fprintf(env.out, "not signed in (last account %s)\n", email)
			return nil
		}
		fmt.Fprintln(env.out, "not signed in")
		return nil
	}

	fmt.Fprintf(env.out, "%s (%s) privileged=%t\n", principal.Email, principal.ID, principal.IsPrivileged)
	return nil
}

func clientSessions(env *cliEnv) (*gatekeeper.Sessions, keychain.Store, error) {
	dir, err := env.cfg.Keychain.VaultDir()
	if err != nil {
		return nil, nil, err
	}

	vault, err := keychain.OpenVault(dir)
	if err != nil {
		return nil, nil, err
	}

	provider := client.NewHTTPProvider(env.cfg.HTTP.BaseURL)
	sessions := gatekeeper.NewSessions(provider, vault).
		WithConfig(env.cfg).
		WithLogger(gatekeeper.NewSlogLogger(env.logger))

	return sessions, vault, nil
}

func promptPassword(env *cliEnv) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(env.out, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(env.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
