package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PeerRecord is the persisted form of a peer. Accesses holds the JSON dump
// of each access, keyed by access ID.
type PeerRecord struct {
	UID       string
	Name      string
	AppID     string
	Groups    []string
	Local     bool
	Accesses  map[string]json.RawMessage
	UpdatedAt time.Time
}

// Repository persists peers.
type Repository interface {
	// SavePeer inserts or replaces a peer together with all its accesses.
	SavePeer(ctx context.Context, rec PeerRecord) error

	// GetPeer returns one peer, or ErrPeerNotFound.
	GetPeer(ctx context.Context, uid string) (*PeerRecord, error)

	// ListPeers returns every stored peer ordered by UID.
	ListPeers(ctx context.Context) ([]PeerRecord, error)

	// DeletePeer removes a peer and its accesses. Unknown UIDs are a no-op.
	DeletePeer(ctx context.Context, uid string) error
}

// SQLiteRepository implements Repository on the peers and peer_accesses
// tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SavePeer inserts or replaces a peer and its accesses in one transaction.
func (r *SQLiteRepository) SavePeer(ctx context.Context, rec PeerRecord) error {
	groups, err := json.Marshal(nonNil(rec.Groups))
	if err != nil {
		return fmt.Errorf("encoding groups of %s: %w", rec.UID, err)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	stamp := updatedAt.UTC().Format(time.RFC3339Nano)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	const upsertPeer = `INSERT INTO peers (uid, name, app_id, groups_json, is_local, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = excluded.name,
			app_id = excluded.app_id,
			groups_json = excluded.groups_json,
			is_local = excluded.is_local,
			updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsertPeer,
		rec.UID, rec.Name, rec.AppID, string(groups), boolToInt(rec.Local), stamp); err != nil {
		return fmt.Errorf("saving peer %s: %w", rec.UID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM peer_accesses WHERE peer_uid = ?`, rec.UID); err != nil {
		return fmt.Errorf("clearing accesses of %s: %w", rec.UID, err)
	}
	for accessID, data := range rec.Accesses {
		const insertAccess = `INSERT INTO peer_accesses (peer_uid, access_id, data, updated_at)
			VALUES (?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insertAccess, rec.UID, accessID, string(data), stamp); err != nil {
			return fmt.Errorf("saving access %s of %s: %w", accessID, rec.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing peer %s: %w", rec.UID, err)
	}
	return nil
}

// GetPeer returns one peer with its accesses.
func (r *SQLiteRepository) GetPeer(ctx context.Context, uid string) (*PeerRecord, error) {
	const query = `SELECT uid, name, app_id, groups_json, is_local, updated_at
		FROM peers WHERE uid = ?`

	rec, err := scanPeer(r.db.QueryRowContext(ctx, query, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, uid)
		}
		return nil, fmt.Errorf("querying peer %s: %w", uid, err)
	}

	accesses, err := r.accesses(ctx, `WHERE peer_uid = ?`, uid)
	if err != nil {
		return nil, err
	}
	rec.Accesses = accesses[uid]
	return rec, nil
}

// ListPeers returns every peer ordered by UID.
func (r *SQLiteRepository) ListPeers(ctx context.Context) ([]PeerRecord, error) {
	const query = `SELECT uid, name, app_id, groups_json, is_local, updated_at
		FROM peers ORDER BY uid`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying peers: %w", err)
	}
	defer rows.Close()

	var peers []PeerRecord
	for rows.Next() {
		rec, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning peer: %w", err)
		}
		peers = append(peers, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating peers: %w", err)
	}
	// Release the connection before the second query; the pool has one.
	rows.Close() //nolint:errcheck // Closed again by the deferred call

	accesses, err := r.accesses(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range peers {
		peers[i].Accesses = accesses[peers[i].UID]
	}
	return peers, nil
}

// DeletePeer removes a peer; its accesses go with it (ON DELETE CASCADE).
func (r *SQLiteRepository) DeletePeer(ctx context.Context, uid string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM peers WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("deleting peer %s: %w", uid, err)
	}
	return nil
}

// accesses loads access dumps grouped by peer UID.
func (r *SQLiteRepository) accesses(ctx context.Context, where string, args ...any) (map[string]map[string]json.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT peer_uid, access_id, data FROM peer_accesses `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accesses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]json.RawMessage)
	for rows.Next() {
		var uid, accessID, data string
		if err := rows.Scan(&uid, &accessID, &data); err != nil {
			return nil, fmt.Errorf("scanning access: %w", err)
		}
		if out[uid] == nil {
			out[uid] = make(map[string]json.RawMessage)
		}
		out[uid][accessID] = json.RawMessage(data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accesses: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (*PeerRecord, error) {
	var (
		rec       PeerRecord
		groups    string
		local     int
		updatedAt string
	)
	if err := row.Scan(&rec.UID, &rec.Name, &rec.AppID, &groups, &local, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(groups), &rec.Groups); err != nil {
		return nil, fmt.Errorf("decoding groups of %s: %w", rec.UID, err)
	}
	rec.Local = local != 0
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
