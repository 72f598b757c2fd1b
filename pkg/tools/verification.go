package tools

import (
	"context"
	"errors"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/remit"
	"github.com/ikamba/ikamba-agent/pkg/verify"
)

// RequestVerificationTool starts linking a chat identity to an
// existing account by emailing a one-time code.
type RequestVerificationTool struct {
	verifier *verify.Verifier

	turn Turn
}

func NewRequestVerificationTool(verifier *verify.Verifier) *RequestVerificationTool {
	return &RequestVerificationTool{verifier: verifier}
}

func (t *RequestVerificationTool) Name() string {
	return "request_whatsapp_verification"
}

func (t *RequestVerificationTool) Description() string {
	return "Send a 6-digit verification code to the user's registered email so this chat can be linked to their account. The email must belong to an existing account."
}

func (t *RequestVerificationTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email": map[string]interface{}{"type": "string", "description": "Email address registered on the account"},
		},
		"required": []string{"email"},
	}
}

func (t *RequestVerificationTool) SetTurn(turn Turn) {
	t.turn = turn
}

func (t *RequestVerificationTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	email := stringArg(args, "email")
	channelID := t.turn.UserID

	ch, err := t.verifier.Request(ctx, channelID, email)
	if errors.Is(err, verify.ErrUnknownEmail) {
		return JSONError("no account found for that email, ask the user to check the address or register on the website first")
	}
	if errors.Is(err, verify.ErrMissingChannel) {
		return JSONError("verification is only available from a chat channel")
	}
	if err != nil {
		logger.ErrorCF("tools", "Verification request failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
		return JSONError("could not start verification, please try again")
	}

	return JSONResult(map[string]interface{}{
		"success":   true,
		"emailSent": true,
		"expiresAt": ch.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// VerifyCodeTool consumes the emailed code and durably links the chat
// identity to the account.
type VerifyCodeTool struct {
	verifier *verify.Verifier
	profiles remit.ProfileStore

	turn Turn
}

func NewVerifyCodeTool(verifier *verify.Verifier, profiles remit.ProfileStore) *VerifyCodeTool {
	return &VerifyCodeTool{verifier: verifier, profiles: profiles}
}

func (t *VerifyCodeTool) Name() string {
	return "verify_whatsapp_code"
}

func (t *VerifyCodeTool) Description() string {
	return "Check the 6-digit code the user received by email and link this chat to their account."
}

func (t *VerifyCodeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{"type": "string", "description": "The 6-digit code from the verification email"},
		},
		"required": []string{"code"},
	}
}

func (t *VerifyCodeTool) SetTurn(turn Turn) {
	t.turn = turn
}

func (t *VerifyCodeTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	code := stringArg(args, "code")
	channelID := t.turn.UserID

	accountID, err := t.verifier.Verify(ctx, channelID, code)
	switch {
	case errors.Is(err, verify.ErrNoChallenge):
		return JSONError("no verification in progress, request a new code first")
	case errors.Is(err, verify.ErrCodeExpired):
		return JSONError("that code has expired, request a new one")
	case errors.Is(err, verify.ErrCodeMismatch):
		return JSONError("that code does not match, ask the user to re-check the email")
	case err != nil:
		logger.ErrorCF("tools", "Code verification failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
		return JSONError("verification failed, please try again")
	}

	result := map[string]interface{}{
		"success":   true,
		"accountId": accountID,
	}

	var missing []string
	if p, perr := t.profiles.GetProfile(ctx, accountID); perr == nil && p != nil {
		result["profile"] = map[string]interface{}{
			"name":    p.Name,
			"email":   p.Email,
			"phone":   p.Phone,
			"country": p.Country,
		}
		if p.Name == "" {
			missing = append(missing, "displayName")
		}
		if p.Phone == "" {
			missing = append(missing, "phoneNumber")
		}
		if p.Country == "" {
			missing = append(missing, "country")
		}
	}
	if missing == nil {
		missing = []string{}
	}
	result["missingFields"] = missing

	logger.InfoCF("tools", "Channel verified", map[string]interface{}{
		"channel_id": channelID,
		"account_id": accountID,
	})
	return JSONResult(result)
}
