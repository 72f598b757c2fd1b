package tools

import (
	"context"
	"strings"

	"github.com/ikamba/ikamba-agent/pkg/remit"
)

// UpdateProfileTool fills in or corrects fields on the caller's
// profile record. Only supplied fields change.
type UpdateProfileTool struct {
	profiles remit.ProfileStore

	turn Turn
}

func NewUpdateProfileTool(profiles remit.ProfileStore) *UpdateProfileTool {
	return &UpdateProfileTool{profiles: profiles}
}

func (t *UpdateProfileTool) Name() string {
	return "update_user_profile"
}

func (t *UpdateProfileTool) Description() string {
	return "Update the user's profile with their display name, phone number, or country. Pass only the fields the user provided."
}

func (t *UpdateProfileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"userId":      map[string]interface{}{"type": "string", "description": "Account identity to update"},
			"displayName": map[string]interface{}{"type": "string", "description": "Full name of the user"},
			"phoneNumber": map[string]interface{}{"type": "string", "description": "Phone number with country prefix"},
			"country":     map[string]interface{}{"type": "string", "description": "Country of residence"},
		},
		"required": []string{},
	}
}

func (t *UpdateProfileTool) SetTurn(turn Turn) {
	t.turn = turn
}

func (t *UpdateProfileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	userID := stringArg(args, "userId")
	if userID == "" {
		userID = t.turn.EffectiveUser()
	}
	if userID == "" {
		return JSONError("missing userId")
	}

	name := strings.TrimSpace(stringArg(args, "displayName"))
	phone := strings.TrimSpace(stringArg(args, "phoneNumber"))
	country := strings.TrimSpace(stringArg(args, "country"))
	if name == "" && phone == "" && country == "" {
		return JSONError("nothing to update, pass at least one of displayName, phoneNumber, country")
	}
	if phone != "" && !remit.IsValidPhone(phone) {
		return JSONError("phone number %q is not valid, expected 8 to 15 digits with optional + prefix", phone)
	}

	profile := remit.Profile{ID: userID}
	if existing, err := t.profiles.GetProfile(ctx, userID); err == nil && existing != nil {
		profile = *existing
	}
	applied := map[string]string{}
	if name != "" {
		profile.Name = name
		applied["displayName"] = name
	}
	if phone != "" {
		profile.Phone = phone
		applied["phoneNumber"] = phone
	}
	if country != "" {
		profile.Country = strings.ToLower(country)
		applied["country"] = profile.Country
	}

	if err := t.profiles.UpsertProfile(ctx, profile); err != nil {
		return JSONError("could not save the profile, please try again")
	}

	return JSONResult(map[string]interface{}{
		"success": true,
		"updated": true,
		"applied": applied,
	})
}
