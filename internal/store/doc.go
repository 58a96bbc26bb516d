// Package store provides persistent storage for ticketd using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces:
//
//   - UserStore: Accounts and group memberships
//   - TicketStore: Auth tickets binding a random token to one user
//   - SessionStore: Server-side session records keyed by session id
//
// SQLiteStore implements all interfaces in a single struct. MockStore is an
// in-memory equivalent for tests. The redisstore package provides an
// alternative TicketStore and SessionStore.
//
// # Data Models
//
//   - User: identified by "acct:<username>@<authority>"
//   - Group: identified by an opaque pubid; members get a "group:<pubid>" principal
//   - Ticket: id, owning userid, created/updated/expires times
//   - SessionRecord: id, JSON data blob, expiry
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC text so that expiry comparisons can
// be done in SQL:
//
//	2026-10-14T09:30:00.000000000Z
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/ticketd/ticketd.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
package store
