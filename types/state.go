package types

import "time"

// UserState tracks a single user's enforcement history.
// Created lazily on first observed event, mutated only after a decision is
// finalized, never deleted (strike history is retained).
type UserState struct {
	UserID          string     `json:"user_id"`
	LastValidPostAt *time.Time `json:"last_valid_post_at,omitempty"`
	StrikeCount     int        `json:"strike_count"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
	UpdatedRev      int64      `json:"updated_rev,omitempty"`

	// LastWarningMessageID is the bot's most recent warning reply to this
	// user, removed once the user posts a compliant showcase.
	LastWarningMessageID string `json:"last_warning_message_id,omitempty"`
}

// ZeroState returns the default state for a user that has no history yet.
// This is what a store read returns for an absent user; it is not persisted
// until an update is applied.
func ZeroState(userID string) UserState {
	return UserState{UserID: userID}
}

// InCooldown reports whether the user's cooldown covers the given instant
func (s *UserState) InCooldown(at time.Time) bool {
	return s.CooldownUntil != nil && at.Before(*s.CooldownUntil)
}

// RecordValidPost refreshes the user's last valid post and cooldown expiry
func (s *UserState) RecordValidPost(at time.Time, cooldown time.Duration) {
	ts := at
	s.LastValidPostAt = &ts
	if cooldown > 0 {
		until := at.Add(cooldown)
		s.CooldownUntil = &until
	}
}

// AddStrike increments the strike counter. Strikes only ever go up; there is
// no decrement path, only an explicit operator reset.
func (s *UserState) AddStrike() {
	s.StrikeCount++
}

// ClearCooldown drops any pending cooldown, e.g. after the user removed
// their own post
func (s *UserState) ClearCooldown() {
	s.CooldownUntil = nil
}
