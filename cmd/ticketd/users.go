// ABOUTME: User management subcommands: change a password and delete an account
// ABOUTME: Both revoke the user's outstanding tickets so existing logins stop working

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/ticketd/internal/config"
	"github.com/2389/ticketd/internal/server"
	"github.com/2389/ticketd/internal/store"
)

// openBackends opens the user store and the ticket store the server uses,
// which may be Redis.
func openBackends(ctx context.Context) (server.Backends, func() error, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return server.Backends{}, nil, fmt.Errorf("loading config: %w", err)
	}
	return server.OpenBackends(ctx, cfg, slog.Default())
}

func runPassword(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "username", "password", "authority")
	if err != nil {
		return err
	}
	username := strings.TrimSpace(flags["username"])
	if username == "" {
		return fmt.Errorf("--username flag is required")
	}

	password := flags["password"]
	if password == "" {
		password = os.Getenv("TICKETD_PASSWORD")
	}
	if password == "" {
		password = prompt(bufio.NewReader(os.Stdin), "New password")
	}
	if password == "" {
		return fmt.Errorf("password is required (--password, TICKETD_PASSWORD, or stdin)")
	}

	b, closeBackends, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer closeBackends()

	user, revoked, err := changePassword(ctx, b, username, flags["authority"], password, bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Changed password for %s\n", user.UserID)
	fmt.Printf("  Revoked tickets: %d\n", revoked)
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "username", "authority")
	if err != nil {
		return err
	}
	username := strings.TrimSpace(flags["username"])
	if username == "" {
		return fmt.Errorf("--username flag is required")
	}

	b, closeBackends, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer closeBackends()

	user, revoked, err := deleteUser(ctx, b, username, flags["authority"])
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Deleted user %s\n", user.UserID)
	fmt.Printf("  Revoked tickets: %d\n", revoked)
	return nil
}

// changePassword stores a new bcrypt hash for the user and revokes their tickets.
func changePassword(ctx context.Context, b server.Backends, username, authority, password string, cost int) (*store.User, int64, error) {
	user, err := lookupUser(ctx, b.Users, username, authority)
	if err != nil {
		return nil, 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, 0, fmt.Errorf("hashing password: %w", err)
	}
	if err := b.Users.UpdatePassword(ctx, user.UserID, string(hash)); err != nil {
		return nil, 0, fmt.Errorf("updating password: %w", err)
	}

	revoked, err := b.Tickets.DeleteUserTickets(ctx, user.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("revoking tickets: %w", err)
	}
	return user, revoked, nil
}

// deleteUser revokes the user's tickets, then removes the account.
func deleteUser(ctx context.Context, b server.Backends, username, authority string) (*store.User, int64, error) {
	user, err := lookupUser(ctx, b.Users, username, authority)
	if err != nil {
		return nil, 0, err
	}

	// Tickets may live outside the user store, where deletion does not cascade
	revoked, err := b.Tickets.DeleteUserTickets(ctx, user.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("revoking tickets: %w", err)
	}
	if err := b.Users.DeleteUser(ctx, user.UserID); err != nil {
		return nil, 0, fmt.Errorf("deleting user: %w", err)
	}
	return user, revoked, nil
}

func lookupUser(ctx context.Context, users store.UserStore, username, authority string) (*store.User, error) {
	user, err := users.GetUserByUsername(ctx, username, authority)
	if err != nil {
		if authority == "" {
			authority = store.DefaultAuthority
		}
		return nil, fmt.Errorf("user %q (authority %s): %w", username, authority, err)
	}
	return user, nil
}
