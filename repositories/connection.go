package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ contract.IConnectionRegistry = (*ConnectionRepository)(nil)

const (
	connectionPrefix = "conn:"
	userIndexPrefix  = "user:"
)

// ConnectionRepository is the Badger-backed connection registry.
//
// Keys:
//
//	conn:{handle}          -> connection record
//	user:{len(userID)}:{userID}:{handle} -> empty, owner index for bulk removal
//
// Both keys carry the lease as a Badger TTL, so passive expiry needs no compaction job.
type ConnectionRepository struct {
	db       *badger.DB
	log      *slog.Logger
	ttl      time.Duration
	pageSize int
	now      func() time.Time
}

func NewConnectionRepository(db *badger.DB, log *slog.Logger, ttl time.Duration, pageSize int) *ConnectionRepository {
	if ttl <= 0 {
		ttl = domain.DefaultConnectionTTL
	}
	if pageSize <= 0 {
		pageSize = 25
	}
	return &ConnectionRepository{db: db, log: log, ttl: ttl, pageSize: pageSize, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (r *ConnectionRepository) WithClock(now func() time.Time) *ConnectionRepository {
	r.now = now
	return r
}

func connectionKey(handle string) []byte {
	return []byte(connectionPrefix + handle)
}

func userIndexKey(userID, handle string) []byte {
	return append(userIndexPrefixFor(userID), handle...)
}

// userIndexPrefixFor length-prefixes userID, so no user's prefix covers another user's keys
// even when the IDs themselves contain ':'.
func userIndexPrefixFor(userID string) []byte {
	return []byte(userIndexPrefix + strconv.Itoa(len(userID)) + ":" + userID + ":")
}

// Insert creates or overwrites the entry for handle with fresh timestamps.
// Retrying with the same handle always leaves exactly one current entry.
func (r *ConnectionRepository) Insert(ctx context.Context, handle, userID string, info domain.ConnectInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.now().UTC()
	conn := domain.Connection{
		Handle:      handle,
		UserID:      userID,
		ConnectedAt: now,
		LastSeen:    now,
		ExpiresAt:   now.Add(r.ttl),
		UserAgent:   info.UserAgent,
		SourceIP:    info.SourceIP,
	}
	data, err := marshalRecord(fromConnection(conn))
	if err != nil {
		return err
	}
	err = update(r.db, func(txn *badger.Txn) error {
		previous, err := getConnection(txn, handle)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		case previous.UserID != userID:
			// The handle changed owner: the old owner must not enumerate it anymore.
			if err := txn.Delete(userIndexKey(previous.UserID, handle)); err != nil {
				return err
			}
		}
		if err := txn.SetEntry(badger.NewEntry(connectionKey(handle), data).WithTTL(r.ttl)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(userIndexKey(userID, handle), nil).WithTTL(r.ttl))
	})
	if err != nil {
		return fmt.Errorf("insert connection %s: %w", handle, err)
	}
	r.log.Debug("Connection stored", "handle", handle, "user_id", userID)
	return nil
}

// DeleteByHandle removes the entry if present and reports whether it existed.
// Deleting an absent handle is a success.
func (r *ConnectionRepository) DeleteByHandle(ctx context.Context, handle string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var existed bool
	err := update(r.db, func(txn *badger.Txn) error {
		existed = false
		conn, err := getConnection(txn, handle)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		if err := txn.Delete(userIndexKey(conn.UserID, handle)); err != nil {
			return err
		}
		return txn.Delete(connectionKey(handle))
	})
	if err != nil {
		return false, fmt.Errorf("delete connection %s: %w", handle, err)
	}
	if !existed {
		r.log.Debug("Connection not found, nothing to delete", "handle", handle)
	}
	return existed, nil
}

// DeleteAllForUser removes every connection owned by userID, one page of the owner index at a time.
// Each removal is its own transaction, so single-handle operations may interleave freely.
// A connect racing this call may legitimately survive it.
func (r *ConnectionRepository) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	prefix := userIndexPrefixFor(userID)
	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		var handles []string
		_, n, err := scanPage(r.db, prefix, nil, r.pageSize, func(key, _ []byte) error {
			handles = append(handles, string(key[len(prefix):]))
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("list connections of %s: %w", userID, err)
		}
		if n == 0 {
			break
		}
		for _, handle := range handles {
			removed, err := r.deleteOwned(userID, handle)
			if err != nil {
				return deleted, err
			}
			if removed {
				deleted++
			}
		}
	}
	r.log.Info("User connections deleted", "user_id", userID, "deleted", deleted)
	return deleted, nil
}

// deleteOwned drops the owner index entry and, when the handle still belongs to userID, the connection.
func (r *ConnectionRepository) deleteOwned(userID, handle string) (bool, error) {
	var removed bool
	err := update(r.db, func(txn *badger.Txn) error {
		removed = false
		if err := txn.Delete(userIndexKey(userID, handle)); err != nil {
			return err
		}
		conn, err := getConnection(txn, handle)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if conn.UserID != userID {
			return nil
		}
		removed = true
		return txn.Delete(connectionKey(handle))
	})
	if err != nil {
		return false, fmt.Errorf("delete connection %s of %s: %w", handle, userID, err)
	}
	return removed, nil
}

// ListAll enumerates the registry page by page.
// The result is a point-in-time approximation: connections inserted during the scan may be missed.
func (r *ConnectionRepository) ListAll(ctx context.Context) ([]domain.Connection, error) {
	prefix := []byte(connectionPrefix)
	var (
		connections []domain.Connection
		after       []byte
		now         = r.now()
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last, n, err := scanPage(r.db, prefix, after, r.pageSize, func(key, value []byte) error {
			record, err := unmarshalRecord(value)
			if err != nil {
				r.log.Warn("Skipping unreadable connection record", "key", string(key), "error", err)
				return nil
			}
			conn := toConnection(record)
			if conn.Expired(now) {
				return nil
			}
			connections = append(connections, conn)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan connections: %w", err)
		}
		if n < r.pageSize {
			break
		}
		after = last
	}
	return connections, nil
}

// Touch refreshes LastSeen. An absent or expired handle is left alone.
func (r *ConnectionRepository) Touch(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.now().UTC()
	return update(r.db, func(txn *badger.Txn) error {
		conn, err := getConnection(txn, handle)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if conn.Expired(now) {
			return nil
		}
		conn.LastSeen = now
		data, err := marshalRecord(fromConnection(conn))
		if err != nil {
			return err
		}
		// Keep the original lease: liveness never extends expiry.
		remaining := conn.ExpiresAt.Sub(now)
		return txn.SetEntry(badger.NewEntry(connectionKey(handle), data).WithTTL(remaining))
	})
}

func getConnection(txn *badger.Txn, handle string) (domain.Connection, error) {
	item, err := txn.Get(connectionKey(handle))
	if err != nil {
		return domain.Connection{}, err
	}
	var conn domain.Connection
	err = item.Value(func(val []byte) error {
		record, err := unmarshalRecord(val)
		if err != nil {
			return err
		}
		conn = toConnection(record)
		return nil
	})
	return conn, err
}

func fromConnection(c domain.Connection) map[string]any {
	return map[string]any{
		"connectionId": c.Handle,
		"userId":       c.UserID,
		"connectedAt":  formatTime(c.ConnectedAt),
		"lastSeen":     formatTime(c.LastSeen),
		"expiresAt":    formatTime(c.ExpiresAt),
		"userAgent":    c.UserAgent,
		"sourceIp":     c.SourceIP,
	}
}

func toConnection(s *structpb.Struct) domain.Connection {
	return domain.Connection{
		Handle:      stringField(s, "connectionId"),
		UserID:      stringField(s, "userId"),
		ConnectedAt: timeField(s, "connectedAt"),
		LastSeen:    timeField(s, "lastSeen"),
		ExpiresAt:   timeField(s, "expiresAt"),
		UserAgent:   stringField(s, "userAgent"),
		SourceIP:    stringField(s, "sourceIp"),
	}
}
