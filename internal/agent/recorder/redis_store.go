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

	"github.com/redis/go-redis/v9"
)

// RedisStore Redis 会话存储：
//
//	<prefix>:session:<id>          会话 JSON（不含记录）
//	<prefix>:session:<id>:entries  记录 JSON 列表
//	<prefix>:sessions[:<proc>]     按创建时间排序的会话 id
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions Redis 连接参数
type RedisOptions struct {
	Addr      string
	DB        int
	Password  string
	KeyPrefix string
}

// NewRedisStore 创建 Redis 存储并检查连通性
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "sop"
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB, Password: opts.Password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, prefix: opts.KeyPrefix}, nil
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *RedisStore) entriesKey(id string) string { return s.prefix + ":session:" + id + ":entries" }
func (s *RedisStore) indexKey(procedureID string) string {
	if procedureID == "" {
		return s.prefix + ":sessions"
	}
	return s.prefix + ":sessions:" + procedureID
}

func (s *RedisStore) CreateSession(ctx context.Context, sess *Session) error {
	cp := *sess
	cp.Entries = nil
	b, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	score := float64(sess.CreatedAt.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.indexKey(""), redis.Z{Score: score, Member: sess.ID})
		p.ZAdd(ctx, s.indexKey(sess.ProcedureID), redis.Z{Score: score, Member: sess.ID})
		return nil
	})
	return err
}

func (s *RedisStore) load(ctx context.Context, id string) (*Session, error) {
	b, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// AppendEntry 追加条目并更新 UpdatedAt；与 CloseSession 一样在 WATCH 下执行
func (s *RedisStore) AppendEntry(ctx context.Context, e Entry) error {
	key := s.sessionKey(e.SessionID)
	entry, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		sess, err := s.load(ctx, e.SessionID)
		if err != nil {
			return err
		}
		if sess.Status != StatusActive {
			return ErrSessionClosed
		}
		sess.UpdatedAt = e.CreatedAt
		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, s.entriesKey(e.SessionID), entry)
			p.Set(ctx, key, b, 0)
			return nil
		})
		return err
	}, key)
}

// CloseSession 以 WATCH 保证只关闭一次
func (s *RedisStore) CloseSession(ctx context.Context, id string, status Status, name string, at time.Time) error {
	key := s.sessionKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		sess, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if sess.Status != StatusActive {
			return ErrSessionClosed
		}
		sess.Status = status
		sess.Name = name
		sess.UpdatedAt = at
		sess.EndedAt = &at
		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, s.entriesKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode entry of %s: %w", id, err)
		}
		sess.Entries = append(sess.Entries, e)
	}
	return sess, nil
}

func (s *RedisStore) ListSessions(ctx context.Context, procedureID string, limit int) ([]*Session, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(procedureID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
