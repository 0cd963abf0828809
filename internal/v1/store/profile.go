package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Profile is a row of the profiles table.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ProfileUpdate carries the patchable profile fields.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// GetProfile reads a user's profile row.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var rows []Profile
	path := "/rest/v1/profiles?id=eq." + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return Profile{}, fmt.Errorf("get_profile: %w", err)
	}
	if len(rows) == 0 {
		return Profile{}, fmt.Errorf("get_profile: %w", ErrNotFound)
	}
	return rows[0], nil
}

// UpdateProfile patches a user's profile row and returns the updated row.
func (c *Client) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (Profile, error) {
	var rows []Profile
	path := "/rest/v1/profiles?id=eq." + url.QueryEscape(userID) + "&select=*"
	if err := c.do(ctx, http.MethodPatch, path, update, &rows); err != nil {
		return Profile{}, fmt.Errorf("update_profile: %w", err)
	}
	if len(rows) == 0 {
		return Profile{}, fmt.Errorf("update_profile: %w", ErrNotFound)
	}
	return rows[0], nil
}
