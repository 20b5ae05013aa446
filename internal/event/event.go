// Package event provides the shared domain model for vrcwatch.
// This package is used by the api, track, enrich, notify, hub, and store packages.
package event

import (
	"time"
)

// Event type constants.
const (
	TypeSessionOpen  = "session_open"
	TypeSessionClose = "session_close"
	TypePlayerJoin   = "player_join"
	TypePlayerLeft   = "player_left"
)

// Event represents one recorded fact on the session timeline.
// This is the domain model shared across packages, independent of storage implementation.
type Event struct {
	ID         int64     `json:"id"`
	Ts         time.Time `json:"ts"`
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	PlayerName *string   `json:"player_name,omitempty"`
	PlayerID   *string   `json:"player_id,omitempty"`
	WorldID    *string   `json:"world_id,omitempty"`
	WorldName  *string   `json:"world_name,omitempty"`
	InstanceID *string   `json:"instance_id,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Session represents one continuous stay in a world instance.
type Session struct {
	ID         string     `json:"id"`
	WorldID    string     `json:"world_id"`
	WorldName  string     `json:"world_name"`
	InstanceID string     `json:"instance_id,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}

// TrustTier classifies a player from upstream-provided trust tags.
type TrustTier string

// Trust tiers, lowest to highest. TierUnknown marks a placeholder identity
// that has never been enriched.
const (
	TierUnknown  TrustTier = "unknown"
	TierNewcomer TrustTier = "newcomer"
	TierBasic    TrustTier = "basic"
	TierKnown    TrustTier = "known"
	TierTrusted  TrustTier = "trusted"
	TierVeteran  TrustTier = "veteran"
)

// Identity is the locally cached profile for a player, independent of any
// one session.
type Identity struct {
	PlayerID       string    `json:"player_id"`
	DisplayName    string    `json:"display_name"`
	Tags           []string  `json:"tags,omitempty"`
	Tier           TrustTier `json:"tier"`
	Flagged        bool      `json:"flagged"`
	FirstSeen      time.Time `json:"first_seen"`
	LastUpdated    time.Time `json:"last_updated"`
	EncounterCount int64     `json:"encounter_count"`
}

// Placeholder reports whether the identity has never been enriched.
func (i *Identity) Placeholder() bool {
	return i.Tier == TierUnknown || i.Tier == ""
}

// StringPtr returns a pointer to the given string.
// Useful for setting optional fields.
func StringPtr(s string) *string {
	return &s
}
