package state

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hzpresence/internal/app/db"
)

// PostgresStore keeps presence entries in PostgreSQL (schema in internal/app/db/migrations).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a migrated pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, instanceUID, socketID, userName string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO presence_entries (instance_uid, socket_id, user_name) VALUES ($1, $2, $3)`,
		instanceUID, socketID, userName,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateSocket
		}
		return unavailable("put", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, instanceUID, socketID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM presence_entries WHERE instance_uid = $1 AND socket_id = $2`,
		instanceUID, socketID,
	)
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *PostgresStore) SocketsForInstance(ctx context.Context, instanceUID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT socket_id, user_name FROM presence_entries WHERE instance_uid = $1`,
		instanceUID,
	)
	if err != nil {
		return nil, unavailable("sockets for instance", err)
	}
	return collectSockets(rows, "sockets for instance")
}

func (s *PostgresStore) AllSockets(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT socket_id, user_name FROM presence_entries`)
	if err != nil {
		return nil, unavailable("all sockets", err)
	}
	return collectSockets(rows, "all sockets")
}

func collectSockets(rows pgx.Rows, op string) (map[string]string, error) {
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var socketID, userName string
		if err := rows.Scan(&socketID, &userName); err != nil {
			return nil, unavailable(op, err)
		}
		out[socketID] = userName
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

func (s *PostgresStore) CountSocketsForUser(ctx context.Context, userName string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM presence_entries WHERE user_name = $1`,
		userName,
	).Scan(&n)
	if err != nil {
		return 0, unavailable("count sockets", err)
	}
	return n, nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, instanceUID string, ttl time.Duration) (bool, error) {
	var lapsed bool
	err := s.pool.QueryRow(ctx,
		`WITH prev AS (
		     SELECT expires_at FROM presence_instances WHERE uid = $1
		 )
		 INSERT INTO presence_instances (uid, expires_at) VALUES ($1, now() + make_interval(secs => $2))
		 ON CONFLICT (uid) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 RETURNING NOT EXISTS (SELECT 1 FROM prev WHERE expires_at > now())`,
		instanceUID, ttl.Seconds(),
	).Scan(&lapsed)
	if err != nil {
		return false, unavailable("heartbeat", err)
	}
	return lapsed, nil
}

func (s *PostgresStore) RemoveInstance(ctx context.Context, instanceUID string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM presence_entries WHERE instance_uid = $1`, instanceUID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM presence_instances WHERE uid = $1`, instanceUID)
		return err
	})
	if err != nil {
		return unavailable("remove instance", err)
	}
	return nil
}

func (s *PostgresStore) ReapExpired(ctx context.Context) (int, error) {
	var removed int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM presence_entries e
			 WHERE NOT EXISTS (
			     SELECT 1 FROM presence_instances i
			     WHERE i.uid = e.instance_uid AND i.expires_at > now()
			 )`,
		)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected()

		_, err = tx.Exec(ctx, `DELETE FROM presence_instances WHERE expires_at <= now()`)
		return err
	})
	if err != nil {
		return 0, unavailable("reap", err)
	}
	return int(removed), nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
