package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/advisor/internal/config"
	"github.com/keyxmakerx/advisor/internal/gateway"
	"github.com/keyxmakerx/advisor/internal/identity"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
	"github.com/keyxmakerx/advisor/internal/plugins/chat"
	"github.com/keyxmakerx/advisor/internal/syncbridge"
)

type loginOptions struct {
	server   string
	email    string
	password string
	logout   bool
	timeout  time.Duration
}

// loginCmd signs in against the identity provider the way the browser
// client does and mirrors the session into a running advisor server.
func loginCmd() *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and sync the session to a running server",
		Long: `login signs in with email and password, pushes the session to the
server's /auth/session endpoint, and lists the account's chat sessions
through the backend API. The password is read from stdin when --password
is not given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.server == "" {
				opts.server = cfg.BaseURL
			}
			if opts.password == "" {
				pw, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				opts.password = pw
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runLogin(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "advisor server URL (default BASE_URL)")
	cmd.Flags().StringVar(&opts.email, "email", "", "account email")
	cmd.Flags().StringVar(&opts.password, "password", "", "account password")
	cmd.Flags().BoolVar(&opts.logout, "logout", false, "sign out again after listing sessions")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runLogin(ctx context.Context, cfg *config.Config, opts *loginOptions, out io.Writer) error {
	client := identity.NewFactory(cfg.Identity).ForMemory()

	pusher, err := syncbridge.NewPusher(opts.server, &http.Client{Timeout: cfg.Identity.Timeout})
	if err != nil {
		return err
	}

	tokens := auth.NewTokenStore()
	api := gateway.New(cfg.API.BaseURL, tokens, gateway.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}))
	store := chat.NewStore(chat.StoreConfig{
		Backend: api,
		Cache:   chat.NewMemoryCache(cfg.Redis.DetailTTL),
		Scope:   opts.email,
		Limit:   cfg.API.SessionListLimit,
		Logger:  slog.Default(),
	})

	loaders := syncbridge.NewLoaders()
	// The session list reloads whenever the signed-in identity changes.
	loaders.Register("chat:sessions", func(ctx context.Context) error {
		session, _ := client.GetSession(ctx)
		tokens.Set(session)
		if session == nil {
			store.Deselect()
			return nil
		}
		return store.InitializeChat(ctx)
	}, syncbridge.DependsAuth)

	bridge := syncbridge.New(client, pusher, loaders, slog.Default())
	bridge.Start()
	defer bridge.Close()

	if _, err := client.SignInWithPassword(ctx, strings.TrimSpace(strings.ToLower(opts.email)), opts.password); err != nil {
		if identity.IsAuthError(err) {
			return errors.New("invalid email or password")
		}
		return fmt.Errorf("signing in: %w", err)
	}
	bridge.Wait()

	status, err := pusher.Status(ctx)
	if err != nil {
		return err
	}
	if !status.Authenticated {
		return errors.New("server did not accept the session")
	}
	fmt.Fprintf(out, "signed in to %s as %s\n", opts.server, status.UserID)

	snap := store.Snapshot()
	if snap.LastError != "" {
		fmt.Fprintf(out, "could not load sessions: %s\n", snap.LastError)
	} else {
		fmt.Fprintf(out, "%d sessions\n", len(snap.Summaries))
		for _, s := range snap.Summaries {
			fmt.Fprintf(out, "  %s  %d messages  %s\n", s.SessionID, s.MessageCount, s.UpdatedAt)
		}
	}

	if !opts.logout {
		return nil
	}
	if err := client.SignOut(ctx); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	bridge.Wait()
	fmt.Fprintln(out, "signed out")
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}
