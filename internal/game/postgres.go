package game

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Schema creates the tables PostgresStore needs. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS players (
	user_id       BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL,
	username_key  TEXT NOT NULL UNIQUE,
	gold          BIGINT NOT NULL DEFAULT 0 CHECK (gold >= 0),
	hp            INTEGER NOT NULL,
	mp            INTEGER NOT NULL,
	max_hp        INTEGER NOT NULL,
	max_mp        INTEGER NOT NULL,
	equipped_skin TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS player_skins (
	user_id  BIGINT NOT NULL REFERENCES players(user_id) ON DELETE CASCADE,
	skin     TEXT NOT NULL,
	PRIMARY KEY (user_id, skin)
);
`

const uniqueViolation = "23505"

// PostgresStore is a [Store] over database/sql with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens dsn with the "postgres" driver and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *PostgresStore) FindOrCreate(ctx context.Context, username string) (*Profile, error) {
	name := strings.TrimSpace(username)
	key := strings.ToLower(name)

	var userID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM players WHERE username_key = $1
	`, key).Scan(&userID)
	if err == nil {
		return s.Profile(ctx, userID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	p := newProfile(0, name)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO players (username, username_key, gold, hp, mp, max_hp, max_mp, equipped_skin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING user_id
	`, p.Username, key, p.Gold, p.Stats.HP, p.Stats.MP, p.Stats.MaxHP, p.Stats.MaxMP, p.EquippedSkin).Scan(&p.UserID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// Lost a race with a concurrent first login.
			_ = tx.Rollback()
			return s.FindOrCreate(ctx, username)
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO player_skins (user_id, skin) VALUES ($1, $2)
	`, p.UserID, DefaultSkin); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) Profile(ctx context.Context, userID int64) (*Profile, error) {
	p := &Profile{UserID: userID}
	var skins []string
	err := s.db.QueryRowContext(ctx, `
		SELECT p.username, p.gold, p.hp, p.mp, p.max_hp, p.max_mp, p.equipped_skin,
		       COALESCE(ARRAY(SELECT skin FROM player_skins WHERE user_id = p.user_id ORDER BY skin), '{}')
		FROM players p
		WHERE p.user_id = $1
	`, userID).Scan(
		&p.Username, &p.Gold,
		&p.Stats.HP, &p.Stats.MP, &p.Stats.MaxHP, &p.Stats.MaxMP,
		&p.EquippedSkin, pq.Array(&skins),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Skins = skins
	return p, nil
}

func (s *PostgresStore) AdjustGold(ctx context.Context, userID, delta int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var gold int64
	err = tx.QueryRowContext(ctx, `
		SELECT gold FROM players WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&gold)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	next, err := applyGold(gold, delta)
	if err != nil {
		return gold, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET gold = $2 WHERE user_id = $1
	`, userID, next); err != nil {
		return gold, err
	}
	if err := tx.Commit(); err != nil {
		return gold, err
	}
	return next, nil
}

func (s *PostgresStore) AdjustVitals(ctx context.Context, userID int64, hpDelta, mpDelta int) (Stats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	defer tx.Rollback()

	var st Stats
	err = tx.QueryRowContext(ctx, `
		SELECT hp, mp, max_hp, max_mp FROM players WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&st.HP, &st.MP, &st.MaxHP, &st.MaxMP)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, ErrNotFound
	}
	if err != nil {
		return Stats{}, err
	}

	next, err := applyVitals(st, hpDelta, mpDelta)
	if err != nil {
		return st, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET hp = $2, mp = $3 WHERE user_id = $1
	`, userID, next.HP, next.MP); err != nil {
		return st, err
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	return next, nil
}

func (s *PostgresStore) EquipSkin(ctx context.Context, userID int64, skin string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE players SET equipped_skin = $2
		WHERE user_id = $1
		  AND EXISTS (SELECT 1 FROM player_skins WHERE user_id = $1 AND skin = $2)
	`, userID, skin)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Profile(ctx, userID); err != nil {
		return err
	}
	return ErrSkinNotOwned
}

func (s *PostgresStore) GrantSkin(ctx context.Context, userID int64, skin string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_skins (user_id, skin) VALUES ($1, $2)
		ON CONFLICT (user_id, skin) DO NOTHING
	`, userID, skin)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
