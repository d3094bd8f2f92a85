// Package pgstore is the reference relational storage.Storage
// implementation: separate tables per record kind, schema managed by
// golang-migrate. Rows are stored as written; this package does not
// encrypt them.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
)

// Store is a pgx-backed storage.Storage.
type Store struct {
	pool       *pgxpool.Pool
	groupLocks sync.Map // [32]byte -> *sync.Mutex
}

// Open connects to Postgres at dsn and ensures the schema is migrated.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// GroupLock returns the per-group mutex used to serialize multi-step
// operations against a single nostr_group_id.
func (s *Store) GroupLock(nostrGroupID [32]byte) *sync.Mutex {
	v, _ := s.groupLocks.LoadOrStore(nostrGroupID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) SaveGroup(ctx context.Context, g storage.Group) error {
	admins := make([][]byte, len(g.Admins))
	for i, a := range g.Admins {
		admins[i] = a[:]
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO groups (nostr_group_id, mls_group_id, name, description, admins, epoch, state, last_message_at, last_message_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (nostr_group_id) DO UPDATE SET
			mls_group_id = EXCLUDED.mls_group_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			admins = EXCLUDED.admins,
			epoch = EXCLUDED.epoch,
			state = EXCLUDED.state,
			last_message_at = EXCLUDED.last_message_at,
			last_message_id = EXCLUDED.last_message_id
	`, g.NostrGroupID[:], g.MLSGroupID, g.Name, g.Description, admins, g.Epoch, g.State, g.LastMessageAt, g.LastMessageID[:])
	if err != nil {
		return fmt.Errorf("save group: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM group_relays WHERE nostr_group_id = $1`, g.NostrGroupID[:]); err != nil {
		return fmt.Errorf("clear group relays: %w", err)
	}
	for _, relay := range g.Relays {
		if _, err := s.pool.Exec(ctx, `INSERT INTO group_relays (nostr_group_id, relay_url) VALUES ($1,$2) ON CONFLICT DO NOTHING`, g.NostrGroupID[:], relay); err != nil {
			return fmt.Errorf("save group relay: %w", err)
		}
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, nostrGroupID [32]byte) (storage.Group, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT mls_group_id, name, description, admins, epoch, state, last_message_at, last_message_id
		FROM groups WHERE nostr_group_id = $1
	`, nostrGroupID[:])

	var g storage.Group
	g.NostrGroupID = nostrGroupID
	var admins [][]byte
	var lastMsgID []byte
	if err := row.Scan(&g.MLSGroupID, &g.Name, &g.Description, &admins, &g.Epoch, &g.State, &g.LastMessageAt, &lastMsgID); err != nil {
		if err == pgx.ErrNoRows {
			return storage.Group{}, false, nil
		}
		return storage.Group{}, false, fmt.Errorf("get group: %w", err)
	}
	g.Admins = make([][32]byte, len(admins))
	for i, a := range admins {
		copy(g.Admins[i][:], a)
	}
	copy(g.LastMessageID[:], lastMsgID)

	rows, err := s.pool.Query(ctx, `SELECT relay_url FROM group_relays WHERE nostr_group_id = $1`, nostrGroupID[:])
	if err != nil {
		return storage.Group{}, false, fmt.Errorf("load group relays: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var relay string
		if err := rows.Scan(&relay); err != nil {
			return storage.Group{}, false, err
		}
		g.Relays = append(g.Relays, relay)
	}
	return g, true, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]storage.Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT nostr_group_id FROM groups`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var ids [][32]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var id [32]byte
		copy(id[:], raw)
		ids = append(ids, id)
	}

	out := make([]storage.Group, 0, len(ids))
	for _, id := range ids {
		g, ok, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Store) SaveMessage(ctx context.Context, m storage.Message) error {
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (event_id, nostr_group_id, pubkey, kind, content, tags, wrapper_event_id, epoch, state, created_at, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (event_id) DO UPDATE SET
			state = EXCLUDED.state, processed_at = EXCLUDED.processed_at, epoch = EXCLUDED.epoch
	`, m.EventID[:], m.NostrGroupID[:], m.PubKey[:], m.Kind, m.Content, tagsJSON, m.WrapperEventID[:], m.Epoch, m.State, m.CreatedAt, m.ProcessedAt)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (storage.Message, error) {
	var m storage.Message
	var eventID, nostrGroupID, pubkey, wrapperEventID []byte
	var tagsJSON []byte
	if err := row.Scan(&eventID, &nostrGroupID, &pubkey, &m.Kind, &m.Content, &tagsJSON, &wrapperEventID, &m.Epoch, &m.State, &m.CreatedAt, &m.ProcessedAt); err != nil {
		return storage.Message{}, err
	}
	copy(m.EventID[:], eventID)
	copy(m.NostrGroupID[:], nostrGroupID)
	copy(m.PubKey[:], pubkey)
	copy(m.WrapperEventID[:], wrapperEventID)
	if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
		return storage.Message{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, eventID [32]byte) (storage.Message, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT event_id, nostr_group_id, pubkey, kind, content, tags, wrapper_event_id, epoch, state, created_at, processed_at
		FROM messages WHERE event_id = $1
	`, eventID[:])
	m, err := scanMessage(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.Message{}, false, nil
		}
		return storage.Message{}, false, fmt.Errorf("get message: %w", err)
	}
	return m, true, nil
}

func (s *Store) MessagesForGroup(ctx context.Context, nostrGroupID [32]byte) ([]storage.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, nostr_group_id, pubkey, kind, content, tags, wrapper_event_id, epoch, state, created_at, processed_at
		FROM messages WHERE nostr_group_id = $1 ORDER BY created_at ASC, event_id ASC
	`, nostrGroupID[:])
	if err != nil {
		return nil, fmt.Errorf("messages for group: %w", err)
	}
	defer rows.Close()
	var out []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) MessagesAfterEpoch(ctx context.Context, nostrGroupID [32]byte, epoch uint64) ([]storage.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, nostr_group_id, pubkey, kind, content, tags, wrapper_event_id, epoch, state, created_at, processed_at
		FROM messages WHERE nostr_group_id = $1 AND epoch IS NOT NULL AND epoch > $2
	`, nostrGroupID[:], epoch)
	if err != nil {
		return nil, fmt.Errorf("messages after epoch: %w", err)
	}
	defer rows.Close()
	var out []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) MessageByOriginalHash(ctx context.Context, nostrGroupID [32]byte, originalHash [32]byte) (storage.Message, bool, error) {
	hexHash := fmt.Sprintf("%x", originalHash)
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, nostr_group_id, pubkey, kind, content, tags, wrapper_event_id, epoch, state, created_at, processed_at
		FROM messages WHERE nostr_group_id = $1 AND tags @> $2::jsonb
	`, nostrGroupID[:], fmt.Sprintf(`[["x","%s"]]`, hexHash))
	if err != nil {
		return storage.Message{}, false, fmt.Errorf("message by original hash: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		m, err := scanMessage(rows)
		return m, err == nil, err
	}
	return storage.Message{}, false, nil
}

func (s *Store) SaveProcessedMessage(ctx context.Context, p storage.ProcessedMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_messages (wrapper_event_id, state, failure_reason) VALUES ($1,$2,$3)
		ON CONFLICT (wrapper_event_id) DO UPDATE SET state = EXCLUDED.state, failure_reason = EXCLUDED.failure_reason
	`, p.WrapperEventID[:], p.State, p.FailureReason)
	return err
}

func (s *Store) GetProcessedMessage(ctx context.Context, wrapperEventID [32]byte) (storage.ProcessedMessage, bool, error) {
	var p storage.ProcessedMessage
	p.WrapperEventID = wrapperEventID
	err := s.pool.QueryRow(ctx, `SELECT state, failure_reason FROM processed_messages WHERE wrapper_event_id = $1`, wrapperEventID[:]).
		Scan(&p.State, &p.FailureReason)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.ProcessedMessage{}, false, nil
		}
		return storage.ProcessedMessage{}, false, err
	}
	return p, true, nil
}

func (s *Store) SaveProcessedWelcome(ctx context.Context, p storage.ProcessedWelcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_welcomes (wrapper_event_id, state, failure_reason, welcome_event_id) VALUES ($1,$2,$3,$4)
		ON CONFLICT (wrapper_event_id) DO UPDATE SET state = EXCLUDED.state, failure_reason = EXCLUDED.failure_reason, welcome_event_id = EXCLUDED.welcome_event_id
	`, p.WrapperEventID[:], p.State, p.FailureReason, p.WelcomeEventID[:])
	return err
}

func (s *Store) GetProcessedWelcome(ctx context.Context, wrapperEventID [32]byte) (storage.ProcessedWelcome, bool, error) {
	var p storage.ProcessedWelcome
	p.WrapperEventID = wrapperEventID
	var welcomeEventID []byte
	err := s.pool.QueryRow(ctx, `SELECT state, failure_reason, welcome_event_id FROM processed_welcomes WHERE wrapper_event_id = $1`, wrapperEventID[:]).
		Scan(&p.State, &p.FailureReason, &welcomeEventID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.ProcessedWelcome{}, false, nil
		}
		return storage.ProcessedWelcome{}, false, err
	}
	copy(p.WelcomeEventID[:], welcomeEventID)
	return p, true, nil
}

func (s *Store) SaveWelcome(ctx context.Context, w storage.Welcome) error {
	var staged []byte
	if w.Staged != nil {
		var err error
		staged, err = w.Staged.Marshal()
		if err != nil {
			return fmt.Errorf("marshal staged welcome: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO welcomes (wrapper_event_id, mls_group_id, nostr_group_id, welcomer, member_count, state, staged_welcome)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (wrapper_event_id) DO UPDATE SET state = EXCLUDED.state, staged_welcome = EXCLUDED.staged_welcome
	`, w.WrapperEventID[:], w.MLSGroupID, w.NostrGroupID[:], w.Welcomer[:], w.MemberCount, w.State, staged)
	return err
}

func (s *Store) GetWelcome(ctx context.Context, wrapperEventID [32]byte) (storage.Welcome, bool, error) {
	var w storage.Welcome
	w.WrapperEventID = wrapperEventID
	var nostrGroupID, welcomer, staged []byte
	err := s.pool.QueryRow(ctx, `
		SELECT mls_group_id, nostr_group_id, welcomer, member_count, state, staged_welcome
		FROM welcomes WHERE wrapper_event_id = $1
	`, wrapperEventID[:]).Scan(&w.MLSGroupID, &nostrGroupID, &welcomer, &w.MemberCount, &w.State, &staged)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.Welcome{}, false, nil
		}
		return storage.Welcome{}, false, err
	}
	copy(w.NostrGroupID[:], nostrGroupID)
	copy(w.Welcomer[:], welcomer)
	if staged != nil {
		if w.Staged, err = mlsengine.UnmarshalWelcome(staged); err != nil {
			return storage.Welcome{}, false, err
		}
	}
	return w, true, nil
}

func (s *Store) SaveExporterSecret(ctx context.Context, e storage.ExporterSecret) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_exporter_secrets (nostr_group_id, epoch, secret) VALUES ($1,$2,$3)
		ON CONFLICT (nostr_group_id, epoch) DO UPDATE SET secret = EXCLUDED.secret
	`, e.NostrGroupID[:], e.Epoch, e.Secret[:])
	return err
}

func (s *Store) GetExporterSecret(ctx context.Context, nostrGroupID [32]byte, epoch uint64) (storage.ExporterSecret, bool, error) {
	var e storage.ExporterSecret
	e.NostrGroupID = nostrGroupID
	e.Epoch = epoch
	var secret []byte
	err := s.pool.QueryRow(ctx, `SELECT secret FROM group_exporter_secrets WHERE nostr_group_id = $1 AND epoch = $2`, nostrGroupID[:], epoch).Scan(&secret)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.ExporterSecret{}, false, nil
		}
		return storage.ExporterSecret{}, false, err
	}
	copy(e.Secret[:], secret)
	return e, true, nil
}

func (s *Store) PruneExporterSecrets(ctx context.Context, nostrGroupID [32]byte, retention int) error {
	if retention <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM group_exporter_secrets WHERE nostr_group_id = $1 AND epoch NOT IN (
			SELECT epoch FROM group_exporter_secrets WHERE nostr_group_id = $1 ORDER BY epoch DESC LIMIT $2
		)
	`, nostrGroupID[:], retention)
	return err
}

func (s *Store) SaveSnapshot(ctx context.Context, snap storage.EpochSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO epoch_snapshots (nostr_group_id, epoch, applied_commit_id, applied_timestamp, checkpoint)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (nostr_group_id, epoch) DO UPDATE SET
			applied_commit_id = EXCLUDED.applied_commit_id,
			applied_timestamp = EXCLUDED.applied_timestamp,
			checkpoint = EXCLUDED.checkpoint
	`, snap.NostrGroupID[:], snap.Epoch, snap.AppliedCommitID[:], snap.AppliedTimestamp, snap.Checkpoint)
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, nostrGroupID [32]byte, epoch uint64) (storage.EpochSnapshot, bool, error) {
	var snap storage.EpochSnapshot
	snap.NostrGroupID = nostrGroupID
	snap.Epoch = epoch
	var commitID []byte
	err := s.pool.QueryRow(ctx, `
		SELECT applied_commit_id, applied_timestamp, checkpoint FROM epoch_snapshots WHERE nostr_group_id = $1 AND epoch = $2
	`, nostrGroupID[:], epoch).Scan(&commitID, &snap.AppliedTimestamp, &snap.Checkpoint)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.EpochSnapshot{}, false, nil
		}
		return storage.EpochSnapshot{}, false, err
	}
	copy(snap.AppliedCommitID[:], commitID)
	return snap, true, nil
}

func (s *Store) DeleteSnapshotsAfter(ctx context.Context, nostrGroupID [32]byte, epoch uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM epoch_snapshots WHERE nostr_group_id = $1 AND epoch > $2`, nostrGroupID[:], epoch)
	return err
}

func (s *Store) PruneSnapshots(ctx context.Context, nostrGroupID [32]byte, retention int) error {
	if retention <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM epoch_snapshots WHERE nostr_group_id = $1 AND epoch NOT IN (
			SELECT epoch FROM epoch_snapshots WHERE nostr_group_id = $1 ORDER BY epoch DESC LIMIT $2
		)
	`, nostrGroupID[:], retention)
	return err
}

func (s *Store) CountSnapshots(ctx context.Context, nostrGroupID [32]byte) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM epoch_snapshots WHERE nostr_group_id = $1`, nostrGroupID[:]).Scan(&n)
	return n, err
}

func (s *Store) SaveKeyPackageHashRef(ctx context.Context, ref storage.KeyPackageHashRef) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO key_package_hashrefs (event_id, handle) VALUES ($1,$2)
		ON CONFLICT (event_id) DO UPDATE SET handle = EXCLUDED.handle
	`, ref.EventID[:], ref.Handle)
	return err
}

func (s *Store) GetKeyPackageHashRef(ctx context.Context, eventID [32]byte) (storage.KeyPackageHashRef, bool, error) {
	var ref storage.KeyPackageHashRef
	ref.EventID = eventID
	err := s.pool.QueryRow(ctx, `SELECT handle FROM key_package_hashrefs WHERE event_id = $1`, eventID[:]).Scan(&ref.Handle)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.KeyPackageHashRef{}, false, nil
		}
		return storage.KeyPackageHashRef{}, false, err
	}
	return ref, true, nil
}

func (s *Store) DeleteKeyPackageHashRef(ctx context.Context, eventID [32]byte) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM key_package_hashrefs WHERE event_id = $1`, eventID[:])
	return err
}

var _ storage.Storage = (*Store)(nil)
