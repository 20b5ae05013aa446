package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
)

const identityColumns = `player_id, display_name, tags_json, tier, flagged, first_seen, last_updated, encounter_count`

// ensureIdentityTx creates a placeholder identity row for a player if none
// exists. Runs inside the join/leave transaction.
func ensureIdentityTx(ctx context.Context, tx *sql.Tx, playerID, displayName string, seenAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO identities (player_id, display_name, tier, first_seen, last_updated, encounter_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(player_id) DO NOTHING`,
		playerID, displayName, string(event.TierUnknown), formatTime(seenAt), formatTime(seenAt),
	)
	if err != nil {
		return fmt.Errorf("ensure identity: %w", err)
	}
	return nil
}

// GetIdentity fetches the cached identity for a player.
// Returns ErrNotFound when the player has never been observed.
func (s *Store) GetIdentity(ctx context.Context, playerID string) (*event.Identity, error) {
	var r identityRow
	err := s.db.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE player_id = ?", playerID,
	).Scan(&r.PlayerID, &r.DisplayName, &r.TagsJSON, &r.Tier, &r.Flagged, &r.FirstSeen, &r.LastUpdated, &r.EncounterCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return r.toIdentity()
}

// UpsertEnrichedIdentity upgrades an identity in place with data from the
// lookup service. first_seen and encounter_count are preserved; a row is
// created if the player was never observed locally (manual enrich trigger).
func (s *Store) UpsertEnrichedIdentity(ctx context.Context, id *event.Identity) (*event.Identity, error) {
	tags := id.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	now := formatTime(id.LastUpdated)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (player_id, display_name, tags_json, tier, flagged, first_seen, last_updated, encounter_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(player_id) DO UPDATE SET
			display_name = excluded.display_name,
			tags_json    = excluded.tags_json,
			tier         = excluded.tier,
			flagged      = excluded.flagged,
			last_updated = excluded.last_updated`,
		id.PlayerID, id.DisplayName, string(tagsJSON), string(id.Tier), id.Flagged, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert identity: %w", err)
	}

	return s.GetIdentity(ctx, id.PlayerID)
}
