// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSchema 会话表结构；EnsureSchema 幂等执行
const PgSchema = `
CREATE TABLE IF NOT EXISTS sop_sessions (
	id           TEXT PRIMARY KEY,
	procedure_id TEXT NOT NULL,
	context      JSONB NOT NULL DEFAULT '{}'::jsonb,
	status       TEXT NOT NULL,
	name         TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sop_sessions_procedure_idx ON sop_sessions (procedure_id, created_at DESC);
CREATE TABLE IF NOT EXISTS sop_session_entries (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL REFERENCES sop_sessions(id) ON DELETE CASCADE,
	seq               INT NOT NULL,
	role              TEXT NOT NULL,
	content           TEXT NOT NULL DEFAULT '',
	type              TEXT NOT NULL,
	tool_name         TEXT,
	tool_args         JSONB,
	tool_result       TEXT,
	parent_message_id TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, seq)
);
`

// PgStore Postgres 会话存储
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 连接 Postgres 并确保表结构存在
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PgStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema 建表
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, PgSchema)
	return err
}

// Close 关闭连接池
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PgStore) CreateSession(ctx context.Context, sess *Session) error {
	rc, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("marshal session context: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sop_sessions (id, procedure_id, context, status, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7)`,
		sess.ID, sess.ProcedureID, rc, string(sess.Status), sess.Name, sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *PgStore) AppendEntry(ctx context.Context, e Entry) error {
	var args []byte
	if e.ToolArgs != nil {
		b, err := json.Marshal(e.ToolArgs)
		if err != nil {
			return fmt.Errorf("marshal tool args: %w", err)
		}
		args = b
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sop_session_entries
		 (id, session_id, seq, role, content, type, tool_name, tool_args, tool_result, parent_message_id, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, NULLIF($7,''), $8, NULLIF($9,''), NULLIF($10,''), $11
		 WHERE EXISTS (SELECT 1 FROM sop_sessions WHERE id = $2 AND status = 'ACTIVE')`,
		e.ID, e.SessionID, e.Seq, e.Role, e.Content, string(e.Type), e.ToolName, args, e.ToolResult, e.ParentMessageID, e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.inactiveErr(ctx, e.SessionID)
	}
	_, err = s.pool.Exec(ctx, `UPDATE sop_sessions SET updated_at = $1 WHERE id = $2`, e.CreatedAt, e.SessionID)
	return err
}

func (s *PgStore) CloseSession(ctx context.Context, id string, status Status, name string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sop_sessions SET status = $1, name = NULLIF($2,''), updated_at = $3, ended_at = $3
		 WHERE id = $4 AND status = 'ACTIVE'`,
		string(status), name, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.inactiveErr(ctx, id)
	}
	return nil
}

// inactiveErr 区分会话不存在与已关闭
func (s *PgStore) inactiveErr(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sop_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ErrSessionClosed
}

const sessionColumns = `id, procedure_id, context, status, COALESCE(name,''), created_at, updated_at, ended_at`

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var status string
	var rc []byte
	if err := row.Scan(&sess.ID, &sess.ProcedureID, &rc, &status, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt, &sess.EndedAt); err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	if len(rc) > 0 {
		if err := json.Unmarshal(rc, &sess.Context); err != nil {
			return nil, fmt.Errorf("decode context of session %s: %w", sess.ID, err)
		}
	}
	return &sess, nil
}

func (s *PgStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sop_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, seq, role, content, type, COALESCE(tool_name,''), tool_args,
		 COALESCE(tool_result,''), COALESCE(parent_message_id,''), created_at
		 FROM sop_session_entries WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		var typ string
		var args []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Seq, &e.Role, &e.Content, &typ, &e.ToolName, &args,
			&e.ToolResult, &e.ParentMessageID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = MessageType(typ)
		if len(args) > 0 {
			if err := json.Unmarshal(args, &e.ToolArgs); err != nil {
				return nil, fmt.Errorf("decode tool args of entry %s: %w", e.ID, err)
			}
		}
		sess.Entries = append(sess.Entries, e)
	}
	return sess, rows.Err()
}

func (s *PgStore) ListSessions(ctx context.Context, procedureID string, limit int) ([]*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sop_sessions`
	args := []any{}
	if procedureID != "" {
		q += ` WHERE procedure_id = $1`
		args = append(args, procedureID)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
