package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("profile not found")

// Sobriquet is one observed nickname within a single group.
type Sobriquet struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Account is one (platform, platform user id) pairing linked to a profile.
type Account struct {
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
}

// Profile is the stored record for one resolved person. The free-form
// fields (identity, personality, impression) belong to other
// collaborators; the store round-trips them without interpretation.
type Profile struct {
	ID                string                 `json:"id"`
	PersonKeyRef      string                 `json:"person_key_ref,omitempty"`
	Identity          string                 `json:"identity,omitempty"`
	Personality       string                 `json:"personality,omitempty"`
	Impression        string                 `json:"impression,omitempty"`
	Accounts          []Account              `json:"accounts,omitempty"`
	SobriquetsByGroup map[string][]Sobriquet `json:"sobriquets_by_group,omitempty"`
}

// Projectable top-level field names accepted by GetProfile.
const (
	FieldAccounts    = "accounts"
	FieldSobriquets  = "sobriquets"
	FieldIdentity    = "identity"
	FieldPersonality = "personality"
	FieldImpression  = "impression"
)

// GroupKey builds the composite key a nickname count is scoped by.
func GroupKey(platform, groupID string) string {
	return platform + "-" + groupID
}

// GenerateProfileID derives the stable record id from an external person
// key. Same key and salt always produce the same id; changing the salt
// orphans every prior record, so callers treat rotation as a migration.
func GenerateProfileID(salt, personKeyRef string) (string, error) {
	if strings.TrimSpace(personKeyRef) == "" {
		return "", fmt.Errorf("person key ref must not be empty")
	}
	sum := sha256.Sum256([]byte(salt + "-" + personKeyRef))
	return hex.EncodeToString(sum[:]), nil
}

// EnsureProfile creates the record when absent and idempotently links the
// given platform account. Existing data is never clobbered. The returned
// bool reports whether a new record was created.
func (s *Store) EnsureProfile(ctx context.Context, profileID, personKeyRef, platform, platformUserID string) (bool, error) {
	if strings.TrimSpace(profileID) == "" {
		return false, fmt.Errorf("profile id must not be empty")
	}
	nowUnix := time.Now().UTC().Unix()

	result, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO profiles (id, person_key_ref, updated_at_unix) VALUES (?, ?, ?)`,
		profileID, personKeyRef, nowUnix,
	)
	if err != nil {
		return false, fmt.Errorf("insert profile: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert profile rows affected: %w", err)
	}

	if strings.TrimSpace(platform) != "" && strings.TrimSpace(platformUserID) != "" {
		_, err = s.db.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO profile_accounts (profile_id, platform, platform_user_id) VALUES (?, ?, ?)`,
			profileID, platform, platformUserID,
		)
		if err != nil {
			return false, fmt.Errorf("link platform account: %w", err)
		}
	}
	return inserted > 0, nil
}

// IncrementSobriquet bumps the (group, nickname) counter by exactly one,
// creating the entry at count 1 on first observation. A missing profile
// is a negative outcome, not an error: the caller must EnsureProfile
// first.
func (s *Store) IncrementSobriquet(ctx context.Context, profileID, platform, groupID, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, fmt.Errorf("sobriquet name must not be empty")
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id = ?`, profileID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check profile: %w", err)
	}

	nowUnix := time.Now().UTC().Unix()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sobriquets (profile_id, platform, group_id, name, count, updated_at_unix)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT(profile_id, platform, group_id, name)
		 DO UPDATE SET count = count + 1, updated_at_unix = excluded.updated_at_unix`,
		profileID, platform, groupID, name, nowUnix,
	)
	if err != nil {
		return false, fmt.Errorf("increment sobriquet: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE profiles SET updated_at_unix = ? WHERE id = ?`, nowUnix, profileID)
	if err != nil {
		return false, fmt.Errorf("touch profile: %w", err)
	}
	return true, nil
}

// GetProfile loads the record, optionally restricted to the named
// top-level fields. The id is always present. A missing record yields
// ErrNotFound, distinct from a record with empty collections.
func (s *Store) GetProfile(ctx context.Context, profileID string, fields ...string) (Profile, error) {
	profile := Profile{ID: profileID}

	var personKeyRef, identityField, personality, impression string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT person_key_ref, identity, personality, impression FROM profiles WHERE id = ?`,
		profileID,
	).Scan(&personKeyRef, &identityField, &personality, &impression)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("select profile: %w", err)
	}

	want := func(field string) bool {
		if len(fields) == 0 {
			return true
		}
		for _, f := range fields {
			if strings.EqualFold(strings.TrimSpace(f), field) {
				return true
			}
		}
		return false
	}

	profile.PersonKeyRef = personKeyRef
	if want(FieldIdentity) {
		profile.Identity = identityField
	}
	if want(FieldPersonality) {
		profile.Personality = personality
	}
	if want(FieldImpression) {
		profile.Impression = impression
	}

	if want(FieldAccounts) {
		accounts, err := s.profileAccounts(ctx, profileID)
		if err != nil {
			return Profile{}, err
		}
		profile.Accounts = accounts
	}
	if want(FieldSobriquets) {
		byGroup, err := s.profileSobriquets(ctx, profileID)
		if err != nil {
			return Profile{}, err
		}
		profile.SobriquetsByGroup = byGroup
	}
	return profile, nil
}

// SetProfileField writes one of the free-form profile fields verbatim.
func (s *Store) SetProfileField(ctx context.Context, profileID, field, value string) error {
	column := ""
	switch strings.ToLower(strings.TrimSpace(field)) {
	case FieldIdentity:
		column = "identity"
	case FieldPersonality:
		column = "personality"
	case FieldImpression:
		column = "impression"
	default:
		return fmt.Errorf("unknown profile field %q", field)
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE profiles SET `+column+` = ?, updated_at_unix = ? WHERE id = ?`,
		value, time.Now().UTC().Unix(), profileID,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", column, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GroupSobriquets returns the nickname counts for one profile scoped to
// one group, unordered. An unknown profile or empty group yields an
// empty slice.
func (s *Store) GroupSobriquets(ctx context.Context, profileID, platform, groupID string) ([]Sobriquet, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT name, count FROM sobriquets WHERE profile_id = ? AND platform = ? AND group_id = ?`,
		profileID, platform, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("select group sobriquets: %w", err)
	}
	defer rows.Close()

	var result []Sobriquet
	for rows.Next() {
		var entry Sobriquet
		if err := rows.Scan(&entry.Name, &entry.Count); err != nil {
			return nil, fmt.Errorf("scan sobriquet: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) profileAccounts(ctx context.Context, profileID string) ([]Account, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT platform, platform_user_id FROM profile_accounts WHERE profile_id = ? ORDER BY platform, platform_user_id`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("select profile accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var account Account
		if err := rows.Scan(&account.Platform, &account.PlatformUserID); err != nil {
			return nil, fmt.Errorf("scan profile account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) profileSobriquets(ctx context.Context, profileID string) (map[string][]Sobriquet, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT platform, group_id, name, count FROM sobriquets WHERE profile_id = ?`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sobriquets: %w", err)
	}
	defer rows.Close()

	byGroup := map[string][]Sobriquet{}
	for rows.Next() {
		var platform, groupID string
		var entry Sobriquet
		if err := rows.Scan(&platform, &groupID, &entry.Name, &entry.Count); err != nil {
			return nil, fmt.Errorf("scan sobriquet: %w", err)
		}
		key := GroupKey(platform, groupID)
		byGroup[key] = append(byGroup[key], entry)
	}
	return byGroup, rows.Err()
}
