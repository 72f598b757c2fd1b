// Package store provides the persistence implementations behind the
// domain interfaces: Redis for conversational state, Postgres for
// customer records, disk for proof images.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ikamba/ikamba-agent/pkg/providers"
	"github.com/ikamba/ikamba-agent/pkg/verify"
)

const (
	nsTranscript = "ikamba:transcript"
	nsIdentity   = "ikamba:identity"
	nsChallenge  = "ikamba:verify"
)

// Redis backs the short-lived conversational state: per-channel
// transcripts, identity links, and verification challenges.
type Redis struct {
	client        redis.UniversalClient
	transcriptTTL time.Duration
}

func NewRedis(addr, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, transcriptTTL: 72 * time.Hour}
}

// NewRedisWithClient wraps an existing client, mainly for tests.
func NewRedisWithClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client, transcriptTTL: 72 * time.Hour}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// AppendTranscript pushes a turn onto a channel transcript, trimming to
// the newest maxTurns entries.
func (r *Redis) AppendTranscript(ctx context.Context, channelID string, msg providers.Message, maxTurns int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transcript turn: %w", err)
	}
	key := nsTranscript + ":" + channelID

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if maxTurns > 0 {
		pipe.LTrim(ctx, key, int64(-maxTurns), -1)
	}
	pipe.Expire(ctx, key, r.transcriptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Transcript returns the retained turns for a channel, oldest first.
func (r *Redis) Transcript(ctx context.Context, channelID string) ([]providers.Message, error) {
	key := nsTranscript + ":" + channelID
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	out := make([]providers.Message, 0, len(raw))
	for _, item := range raw {
		var msg providers.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Redis) ClearTranscript(ctx context.Context, channelID string) error {
	return r.client.Del(ctx, nsTranscript+":"+channelID).Err()
}

// LinkedAccount implements remit.IdentityLinker.
func (r *Redis) LinkedAccount(ctx context.Context, channelID string) (string, bool, error) {
	val, err := r.client.Get(ctx, nsIdentity+":"+channelID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load identity link: %w", err)
	}
	return val, true, nil
}

// Link implements remit.IdentityLinker. Links do not expire.
func (r *Redis) Link(ctx context.Context, channelID, accountID string) error {
	if err := r.client.Set(ctx, nsIdentity+":"+channelID, accountID, 0).Err(); err != nil {
		return fmt.Errorf("store identity link: %w", err)
	}
	return nil
}

// PutChallenge implements verify.ChallengeStore. SET overwrites, so the
// newest challenge for a channel identity always wins.
func (r *Redis) PutChallenge(ctx context.Context, ch verify.Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.client.Set(ctx, nsChallenge+":"+ch.ChannelID, data, ttl).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (r *Redis) GetChallenge(ctx context.Context, channelID string) (*verify.Challenge, error) {
	val, err := r.client.Get(ctx, nsChallenge+":"+channelID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	var ch verify.Challenge
	if err := json.Unmarshal([]byte(val), &ch); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return &ch, nil
}

func (r *Redis) DeleteChallenge(ctx context.Context, channelID string) error {
	return r.client.Del(ctx, nsChallenge+":"+channelID).Err()
}
