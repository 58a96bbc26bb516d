// ABOUTME: Tests for the password and delete user commands
// ABOUTME: Checks that both revoke tickets whether they live with users or in Redis

package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/ticketd/internal/redisstore"
	"github.com/2389/ticketd/internal/server"
	"github.com/2389/ticketd/internal/store"
)

func seedUser(t *testing.T, st *store.MockStore, username, authority string) *store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &store.User{Username: username, Authority: authority, PasswordHash: string(hash)}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func seedTicket(t *testing.T, tickets store.TicketStore, id, userid string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, tickets.CreateTicket(context.Background(), &store.Ticket{
		ID: id, UserID: userid, Created: now, Updated: now, Expires: now.Add(time.Hour),
	}))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	alice := seedUser(t, st, "alice", "")
	seedTicket(t, st, "T1", alice.UserID)
	b := server.Backends{Users: st, Tickets: st, Sessions: st}

	user, revoked, err := changePassword(ctx, b, "alice", "", "new-password", bcrypt.MinCost)
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, user.UserID)
	assert.Equal(t, int64(1), revoked)
	assert.Zero(t, st.TicketCount())

	got, err := st.GetUser(ctx, alice.UserID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got.PasswordHash), []byte("new-password")))
}

func TestChangePassword_SpecificAuthority(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	partner := seedUser(t, st, "alice", "partner.org")
	b := server.Backends{Users: st, Tickets: st, Sessions: st}

	_, _, err := changePassword(ctx, b, "alice", "", "new-password", bcrypt.MinCost)
	require.ErrorIs(t, err, store.ErrUserNotFound)

	_, _, err = changePassword(ctx, b, "alice", "partner.org", "new-password", bcrypt.MinCost)
	require.NoError(t, err)

	got, _ := st.GetUser(ctx, partner.UserID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got.PasswordHash), []byte("new-password")))
}

func TestChangePassword_UnknownUser(t *testing.T) {
	st := store.NewMockStore()
	alice := seedUser(t, st, "alice", "")
	b := server.Backends{Users: st, Tickets: st, Sessions: st}

	_, _, err := changePassword(context.Background(), b, "bogus_alice", "", "new-password", bcrypt.MinCost)
	require.ErrorIs(t, err, store.ErrUserNotFound)

	got, _ := st.GetUser(context.Background(), alice.UserID)
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(got.PasswordHash), []byte("new-password")))
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	alice := seedUser(t, st, "alice", "")
	bob := seedUser(t, st, "bob", "")
	seedTicket(t, st, "TA", alice.UserID)
	seedTicket(t, st, "TB", bob.UserID)
	b := server.Backends{Users: st, Tickets: st, Sessions: st}

	_, revoked, err := deleteUser(ctx, b, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)

	_, err = st.GetUser(ctx, alice.UserID)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.Equal(t, 1, st.TicketCount())

	_, _, err = deleteUser(ctx, b, "alice", "")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestDeleteUser_UnknownAuthority(t *testing.T) {
	st := store.NewMockStore()
	alice := seedUser(t, st, "alice", "")
	b := server.Backends{Users: st, Tickets: st, Sessions: st}

	_, _, err := deleteUser(context.Background(), b, "alice", "foo.com")
	require.ErrorIs(t, err, store.ErrUserNotFound)

	_, err = st.GetUser(context.Background(), alice.UserID)
	assert.NoError(t, err)
}

func TestDeleteUser_RedisTickets(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rs := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test", nil)
	t.Cleanup(func() { _ = rs.Close() })

	st := store.NewMockStore()
	alice := seedUser(t, st, "alice", "")
	seedTicket(t, rs, "T1", alice.UserID)
	b := server.Backends{Users: st, Tickets: rs, Sessions: rs}

	_, revoked, err := deleteUser(ctx, b, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)
	assert.False(t, mr.Exists("test:ticket:T1"))
}
