package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresAdapter persists the aggregate into the relational reference
// layout. Saves replace the mutable tables wholesale inside one transaction;
// the aggregate is small enough (bounded sessions, compacted logs) that a
// snapshot write stays cheap.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter connects a pool, runs pending migrations and returns the
// ready adapter.
func NewPostgresAdapter(ctx context.Context, dsn string) (*PostgresAdapter, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	logging.Info(ctx, "connected to Postgres store backend")
	return &PostgresAdapter{pool: pool}, nil
}

func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// sessionDoc is the jsonb column shape for a session row. Participants and
// room bans live in their own tables, so the doc carries everything else.
func sessionDoc(s *types.Session) *types.Session {
	doc := s.Clone()
	doc.Participants = nil
	doc.RoomBans = nil
	return doc
}

// Save replaces the persisted snapshot with the given aggregate.
func (p *PostgresAdapter) Save(ctx context.Context, data *types.StoreData) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres save begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{
		"game_logs", "auth_access_tokens", "auth_refresh_tokens",
		"session_room_bans", "multiplayer_session_members",
		"multiplayer_sessions", "player_profiles", "players",
	} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("postgres save clear %s: %w", table, err)
		}
	}

	for _, pl := range data.Players {
		if _, err := tx.Exec(ctx,
			`INSERT INTO players (uid, display_name, email, avatar_url, provider_id, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			string(pl.Uid), pl.DisplayName, pl.Email, pl.AvatarUrl, pl.ProviderId, pl.UpdatedAt); err != nil {
			return fmt.Errorf("postgres save player %s: %w", pl.Uid, err)
		}
		if pl.AdminRole != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO player_profiles (player_id, admin_role, admin_role_updated_at, admin_role_updated_by)
				 VALUES ($1, $2, $3, $4)`,
				string(pl.Uid), string(pl.AdminRole), pl.AdminRoleUpdatedAt, string(pl.AdminRoleUpdatedBy)); err != nil {
				return fmt.Errorf("postgres save profile %s: %w", pl.Uid, err)
			}
		}
	}

	for _, s := range data.Sessions {
		doc, err := json.Marshal(sessionDoc(s))
		if err != nil {
			return fmt.Errorf("encode session %s: %w", s.SessionId, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO multiplayer_sessions (id, room_code, room_kind, owner_player_id, expires_at, session_complete, doc)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(s.SessionId), s.RoomCode, string(s.RoomKind), string(s.OwnerPlayerId),
			s.ExpiresAt, s.SessionComplete, doc); err != nil {
			return fmt.Errorf("postgres save session %s: %w", s.SessionId, err)
		}
		for _, member := range s.Participants {
			mdoc, err := json.Marshal(member)
			if err != nil {
				return fmt.Errorf("encode participant %s: %w", member.PlayerId, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO multiplayer_session_members (session_id, player_id, doc) VALUES ($1, $2, $3)`,
				string(s.SessionId), string(member.PlayerId), mdoc); err != nil {
				return fmt.Errorf("postgres save member %s/%s: %w", s.SessionId, member.PlayerId, err)
			}
		}
		for _, ban := range s.RoomBans {
			bdoc, err := json.Marshal(ban)
			if err != nil {
				return fmt.Errorf("encode ban %s: %w", ban.PlayerId, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO session_room_bans (session_id, player_id, doc) VALUES ($1, $2, $3)`,
				string(s.SessionId), string(ban.PlayerId), bdoc); err != nil {
				return fmt.Errorf("postgres save ban %s/%s: %w", s.SessionId, ban.PlayerId, err)
			}
		}
	}

	for hash, t := range data.AuthTokens {
		table := "auth_access_tokens"
		if t.Kind == types.TokenKindRefresh {
			table = "auth_refresh_tokens"
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+table+` (token_hash, player_id, session_id, issued_at, expires_at, revoked_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			hash, string(t.PlayerId), string(t.SessionId), t.IssuedAt, t.ExpiresAt, t.RevokedAt); err != nil {
			return fmt.Errorf("postgres save token: %w", err)
		}
	}

	for _, l := range data.GameLogs {
		payload, err := json.Marshal(l.Payload)
		if err != nil {
			return fmt.Errorf("encode log payload %s: %w", l.Id, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_logs (id, player_id, session_id, type, ts, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			l.Id, string(l.PlayerId), string(l.SessionId), l.Type, l.Timestamp, payload); err != nil {
			return fmt.Errorf("postgres save log %s: %w", l.Id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres save commit: %w", err)
	}
	return nil
}

// Load reconstructs the aggregate from the relational snapshot. An empty
// database returns (nil, nil).
func (p *PostgresAdapter) Load(ctx context.Context) (*types.StoreData, error) {
	data := types.NewStoreData()

	rows, err := p.pool.Query(ctx,
		`SELECT p.uid, p.display_name, p.email, p.avatar_url, p.provider_id, p.updated_at,
		        COALESCE(pr.admin_role, ''), COALESCE(pr.admin_role_updated_at, 0), COALESCE(pr.admin_role_updated_by, '')
		 FROM players p LEFT JOIN player_profiles pr ON pr.player_id = p.uid`)
	if err != nil {
		return nil, fmt.Errorf("postgres load players: %w", err)
	}
	for rows.Next() {
		var pl types.Player
		var uid, role, roleBy string
		if err := rows.Scan(&uid, &pl.DisplayName, &pl.Email, &pl.AvatarUrl, &pl.ProviderId, &pl.UpdatedAt,
			&role, &pl.AdminRoleUpdatedAt, &roleBy); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres scan player: %w", err)
		}
		pl.Uid = types.PlayerIdType(uid)
		pl.AdminRole = types.AdminRole(role)
		pl.AdminRoleUpdatedBy = types.PlayerIdType(roleBy)
		data.Players[pl.Uid] = &pl
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres load players: %w", err)
	}

	if err := p.loadSessions(ctx, data); err != nil {
		return nil, err
	}
	if err := p.loadTokens(ctx, data); err != nil {
		return nil, err
	}
	if err := p.loadLogs(ctx, data); err != nil {
		return nil, err
	}

	if len(data.Players) == 0 && len(data.Sessions) == 0 && len(data.AuthTokens) == 0 && len(data.GameLogs) == 0 {
		return nil, nil
	}
	return data, nil
}

func (p *PostgresAdapter) loadSessions(ctx context.Context, data *types.StoreData) error {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM multiplayer_sessions`)
	if err != nil {
		return fmt.Errorf("postgres load sessions: %w", err)
	}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			rows.Close()
			return fmt.Errorf("postgres scan session: %w", err)
		}
		var s types.Session
		if err := json.Unmarshal(doc, &s); err != nil {
			rows.Close()
			return fmt.Errorf("decode session doc: %w", err)
		}
		s.Participants = make(map[types.PlayerIdType]*types.Participant)
		s.RoomBans = make(map[types.PlayerIdType]*types.BanRecord)
		data.Sessions[s.SessionId] = &s
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres load sessions: %w", err)
	}

	rows, err = p.pool.Query(ctx, `SELECT session_id, doc FROM multiplayer_session_members`)
	if err != nil {
		return fmt.Errorf("postgres load members: %w", err)
	}
	for rows.Next() {
		var sid string
		var doc []byte
		if err := rows.Scan(&sid, &doc); err != nil {
			rows.Close()
			return fmt.Errorf("postgres scan member: %w", err)
		}
		var member types.Participant
		if err := json.Unmarshal(doc, &member); err != nil {
			rows.Close()
			return fmt.Errorf("decode participant doc: %w", err)
		}
		if s, ok := data.Sessions[types.SessionIdType(sid)]; ok {
			s.Participants[member.PlayerId] = &member
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres load members: %w", err)
	}

	rows, err = p.pool.Query(ctx, `SELECT session_id, doc FROM session_room_bans`)
	if err != nil {
		return fmt.Errorf("postgres load bans: %w", err)
	}
	for rows.Next() {
		var sid string
		var doc []byte
		if err := rows.Scan(&sid, &doc); err != nil {
			rows.Close()
			return fmt.Errorf("postgres scan ban: %w", err)
		}
		var ban types.BanRecord
		if err := json.Unmarshal(doc, &ban); err != nil {
			rows.Close()
			return fmt.Errorf("decode ban doc: %w", err)
		}
		if s, ok := data.Sessions[types.SessionIdType(sid)]; ok {
			s.RoomBans[ban.PlayerId] = &ban
		}
	}
	rows.Close()
	return rows.Err()
}

func (p *PostgresAdapter) loadTokens(ctx context.Context, data *types.StoreData) error {
	for table, kind := range map[string]types.TokenKind{
		"auth_access_tokens":  types.TokenKindAccess,
		"auth_refresh_tokens": types.TokenKindRefresh,
	} {
		rows, err := p.pool.Query(ctx,
			`SELECT token_hash, player_id, session_id, issued_at, expires_at, revoked_at FROM `+table)
		if err != nil {
			return fmt.Errorf("postgres load %s: %w", table, err)
		}
		for rows.Next() {
			var t types.AuthToken
			var pid, sid string
			if err := rows.Scan(&t.TokenHash, &pid, &sid, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
				rows.Close()
				return fmt.Errorf("postgres scan token: %w", err)
			}
			t.PlayerId = types.PlayerIdType(pid)
			t.SessionId = types.SessionIdType(sid)
			t.Kind = kind
			data.AuthTokens[t.TokenHash] = &t
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("postgres load %s: %w", table, err)
		}
	}
	return nil
}

func (p *PostgresAdapter) loadLogs(ctx context.Context, data *types.StoreData) error {
	rows, err := p.pool.Query(ctx,
		`SELECT id, player_id, session_id, type, ts, payload FROM game_logs ORDER BY ts ASC`)
	if err != nil {
		return fmt.Errorf("postgres load logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l types.GameLog
		var pid, sid string
		var payload []byte
		if err := rows.Scan(&l.Id, &pid, &sid, &l.Type, &l.Timestamp, &payload); err != nil {
			return fmt.Errorf("postgres scan log: %w", err)
		}
		l.PlayerId = types.PlayerIdType(pid)
		l.SessionId = types.SessionIdType(sid)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &l.Payload); err != nil {
				return fmt.Errorf("decode log payload: %w", err)
			}
		}
		data.GameLogs = append(data.GameLogs, &l)
	}
	return rows.Err()
}

// Ping checks pool connectivity for health probes.
func (p *PostgresAdapter) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}
