// Package verify implements phone-number identity verification: a
// short-lived emailed code links a channel identity to a customer
// account.
package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/remit"
)

var (
	ErrUnknownEmail   = errors.New("no account found for this email")
	ErrNoChallenge    = errors.New("no verification in progress")
	ErrCodeExpired    = errors.New("verification code expired")
	ErrCodeMismatch   = errors.New("verification code does not match")
	ErrMissingChannel = errors.New("channel identity is required")
)

// Challenge is one outstanding verification code for a channel
// identity. A new challenge replaces any earlier one for the same
// identity.
type Challenge struct {
	ChannelID string    `json:"channel_id"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeStore keeps at most one challenge per channel identity.
// Put overwrites unconditionally.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, ch Challenge) error
	GetChallenge(ctx context.Context, channelID string) (*Challenge, error)
	DeleteChallenge(ctx context.Context, channelID string) error
}

// Verifier runs the challenge lifecycle.
type Verifier struct {
	store    ChallengeStore
	profiles remit.ProfileStore
	linker   remit.IdentityLinker
	emails   remit.EmailSender
	ttl      time.Duration
	now      func() time.Time
}

func NewVerifier(store ChallengeStore, profiles remit.ProfileStore, linker remit.IdentityLinker, emails remit.EmailSender, ttl time.Duration) *Verifier {
	return &Verifier{
		store:    store,
		profiles: profiles,
		linker:   linker,
		emails:   emails,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Request issues a new challenge for the channel identity. The email
// must belong to a known account. The code email is dispatched in the
// background; delivery failure does not revoke the challenge.
func (v *Verifier) Request(ctx context.Context, channelID, email string) (*Challenge, error) {
	if channelID == "" {
		return nil, ErrMissingChannel
	}

	profile, err := v.profiles.FindProfileByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("look up account by email: %w", err)
	}
	if profile == nil {
		return nil, ErrUnknownEmail
	}

	now := v.now()
	ch := Challenge{
		ChannelID: channelID,
		AccountID: profile.ID,
		Email:     profile.Email,
		Code:      randomCode(6),
		IssuedAt:  now,
		ExpiresAt: now.Add(v.ttl),
	}
	if err := v.store.PutChallenge(ctx, ch); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	remit.SendAsync(v.emails, profile.Email, "Your Ikamba verification code",
		fmt.Sprintf("<p>Your verification code is <strong>%s</strong>. It expires in %d minutes.</p>",
			ch.Code, int(v.ttl.Minutes())))

	logger.InfoCF("verify", "Verification challenge issued",
		map[string]interface{}{"channel_id": channelID, "account_id": profile.ID})
	return &ch, nil
}

// Verify checks a submitted code. A match consumes the challenge and
// durably links the channel identity to the account. A mismatch leaves
// the challenge in place so the user can retry until it expires.
func (v *Verifier) Verify(ctx context.Context, channelID, code string) (string, error) {
	if channelID == "" {
		return "", ErrMissingChannel
	}

	ch, err := v.store.GetChallenge(ctx, channelID)
	if err != nil {
		return "", fmt.Errorf("load challenge: %w", err)
	}
	if ch == nil {
		return "", ErrNoChallenge
	}
	if v.now().After(ch.ExpiresAt) {
		_ = v.store.DeleteChallenge(ctx, channelID)
		return "", ErrCodeExpired
	}
	if ch.Code != code {
		return "", ErrCodeMismatch
	}

	if err := v.linker.Link(ctx, channelID, ch.AccountID); err != nil {
		return "", fmt.Errorf("link identity: %w", err)
	}
	if err := v.store.DeleteChallenge(ctx, channelID); err != nil {
		logger.WarnCF("verify", "Failed to consume challenge after success",
			map[string]interface{}{"channel_id": channelID, "error": err.Error()})
	}

	logger.InfoCF("verify", "Identity verified",
		map[string]interface{}{"channel_id": channelID, "account_id": ch.AccountID})
	return ch.AccountID, nil
}

func randomCode(digits int) string {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		n = big.NewInt(time.Now().UnixNano() % max.Int64())
	}
	return fmt.Sprintf("%0*d", digits, n)
}
