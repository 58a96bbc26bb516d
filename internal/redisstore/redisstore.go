// ABOUTME: Redis-backed ticket and session store
// ABOUTME: Tickets are hashes expiring at their deadline; refresh runs as an atomic Lua script

package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/ticketd/internal/store"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultPrefix namespaces every key when Options.Prefix is empty.
const DefaultPrefix = "ticketd"

// touchTicketScript refreshes a ticket only if it still exists.
const touchTicketScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "updated", ARGV[1], "expires", ARGV[2])
redis.call("PEXPIREAT", KEYS[1], ARGV[2])
return 1
`

var touchTicketLua = redis.NewScript(touchTicketScript)

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   *slog.Logger
}

// Store keeps auth tickets and sessions in Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ store.TicketStore  = (*Store)(nil)
	_ store.SessionStore = (*Store)(nil)
)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return New(rdb, opts.Prefix, opts.Logger), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rdb:    rdb,
		prefix: prefix,
		now:    time.Now,
		logger: logger.With("component", "redisstore"),
	}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) ticketKey(id string) string {
	return s.prefix + ":ticket:" + id
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + ":session:" + id
}

// CreateTicket stores a ticket that Redis expires at ticket.Expires.
func (s *Store) CreateTicket(ctx context.Context, ticket *store.Ticket) error {
	key := s.ticketKey(ticket.ID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"userid", ticket.UserID,
			"created", ticket.Created.UnixMilli(),
			"updated", ticket.Updated.UnixMilli(),
			"expires", ticket.Expires.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, ticket.Expires)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s.logger.Debug("created auth ticket", "userid", ticket.UserID, "expires", ticket.Expires)
	return nil
}

// GetTicket loads a ticket. Expired tickets are already gone.
func (s *Store) GetTicket(ctx context.Context, id string) (*store.Ticket, error) {
	fields, err := s.rdb.HGetAll(ctx, s.ticketKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrTicketNotFound
	}

	t := &store.Ticket{ID: id, UserID: fields["userid"]}
	for name, dst := range map[string]*time.Time{
		"created": &t.Created,
		"updated": &t.Updated,
		"expires": &t.Expires,
	} {
		ms, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing ticket %s: %w", name, err)
		}
		*dst = time.UnixMilli(ms)
	}
	return t, nil
}

// TouchTicket moves the expiry of an existing ticket.
func (s *Store) TouchTicket(ctx context.Context, id string, updated, expires time.Time) error {
	n, err := touchTicketLua.Run(ctx, s.rdb,
		[]string{s.ticketKey(id)},
		updated.UnixMilli(), expires.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

// DeleteTicket removes a ticket and reports whether it existed.
func (s *Store) DeleteTicket(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.ticketKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// DeleteExpiredTickets is a no-op: Redis expires tickets itself.
func (s *Store) DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// DeleteUserTickets scans the ticket keyspace and removes tickets owned by userid.
func (s *Store) DeleteUserTickets(ctx context.Context, userid string) (int64, error) {
	var n int64
	iter := s.rdb.Scan(ctx, 0, s.ticketKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		owner, err := s.rdb.HGet(ctx, key, "userid").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if owner != userid {
			continue
		}
		deleted, err := s.rdb.Del(ctx, key).Result()
		if err != nil {
			return n, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		n += deleted
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if n > 0 {
		s.logger.Info("deleted user auth tickets", "userid", userid, "count", n)
	}
	return n, nil
}

// GetSession loads a session record.
func (s *Store) GetSession(ctx context.Context, id string) (*store.SessionRecord, error) {
	key := s.sessionKey(id)

	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	data, err := get.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	rec := &store.SessionRecord{ID: id, Data: data}
	if ttl := pttl.Val(); ttl > 0 {
		rec.Expires = s.now().Add(ttl)
	}
	return rec, nil
}

// SaveSession writes a session with a TTL matching rec.Expires.
func (s *Store) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	ttl := rec.Expires.Sub(s.now())
	if ttl <= 0 {
		return s.DeleteSession(ctx, rec.ID)
	}
	if err := s.rdb.Set(ctx, s.sessionKey(rec.ID), rec.Data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteExpiredSessions is a no-op: Redis expires sessions itself.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
