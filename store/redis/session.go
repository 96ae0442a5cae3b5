package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

// SaveSession writes the checkpoint and its index entry in one
// transaction.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	payload, err := session.Encode(sess)
	if err != nil {
		return err
	}
	sID := sess.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(sID),
		"payload", string(payload),
		"status", string(sess.Status),
	)
	pipe.ZAdd(ctx, sessionIndexKey, goredis.Z{Score: score(sess.UpdatedAt), Member: sID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: save session: %w", err)
	}
	return nil
}

// LoadSession reads and decodes the checkpoint.
func (s *Store) LoadSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	key := sessionID.String()
	payload, err := s.client.HGet(ctx, sessionKey(key), "payload").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, conductor.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: load session: %w", err)
	}
	return session.Decode(key, []byte(payload))
}

// ListSessions returns summaries, newest first. A status filter is applied
// after the index scan, so Limit counts matching sessions only.
func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Summary, error) {
	limit := opts.Limit
	if opts.Status != "" {
		limit = 0
	}
	ids, err := s.indexRange(ctx, sessionIndexKey, limit)
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: list sessions: %w", err)
	}

	out := make([]*session.Summary, 0, len(ids))
	for _, sID := range ids {
		payload, getErr := s.client.HGet(ctx, sessionKey(sID), "payload").Result()
		if errors.Is(getErr, goredis.Nil) {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("conductor/redis: list sessions: %w", getErr)
		}
		sess, decErr := session.Decode(sID, []byte(payload))
		if decErr != nil {
			s.logger.Warn("corrupt session checkpoint", slog.String("session_id", sID), slog.String("error", decErr.Error()))
			out = append(out, session.CorruptSummary(sID, decErr))
			continue
		}
		out = append(out, session.Summarize(sess))
	}
	return session.Filter(out, opts), nil
}

// DeleteSession removes the checkpoint and its index entry.
func (s *Store) DeleteSession(ctx context.Context, sessionID id.SessionID) error {
	sID := sessionID.String()
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, sessionKey(sID))
	pipe.ZRem(ctx, sessionIndexKey, sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: delete session: %w", err)
	}
	if del.Val() == 0 {
		return conductor.ErrSessionNotFound
	}
	return nil
}
