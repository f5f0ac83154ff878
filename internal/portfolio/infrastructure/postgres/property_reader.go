package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	billing "ownerledger/internal/billing/domain"
)

const propertyColumns = `id, owner_name, owner_email, commission_percent, new_fee_percent,
new_fee_effective, cohost_percent, cohost_partner, tech_fee, insurance_fee,
waiver_enabled, waiver_expiry, cohost_external, should_add_tax,
occupancy_tax_percent, group_id, tags, transfer_account`

// PropertyReader loads fee profiles and groups from the properties table.
type PropertyReader struct {
	db *sql.DB
}

// NewPropertyReader constructs a property reader.
func NewPropertyReader(db *sql.DB) (*PropertyReader, error) {
	if db == nil {
		return nil, errors.New("property reader: nil db")
	}
	return &PropertyReader{db: db}, nil
}

// GetFeeProfile loads one property's billing profile. Returns nil when the
// property does not exist.
func (r *PropertyReader) GetFeeProfile(ctx context.Context, propertyID string) (*billing.FeeProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM properties WHERE id = $1`, propertyColumns)
	profile, err := scanFeeProfile(r.db.QueryRowContext(ctx, query, propertyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fee profile: %w", err)
	}
	return profile, nil
}

// ListByTag loads every property carrying the schedule tag.
func (r *PropertyReader) ListByTag(ctx context.Context, tag string) ([]billing.FeeProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM properties WHERE tags LIKE $1 ORDER BY id`, propertyColumns)
	rows, err := r.db.QueryContext(ctx, query, "%"+tag+"%")
	if err != nil {
		return nil, fmt.Errorf("list by tag: %w", err)
	}
	defer rows.Close()

	var profiles []billing.FeeProfile
	for rows.Next() {
		profile, err := scanFeeProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("list by tag scan: %w", err)
		}
		// LIKE matches substrings; confirm against the parsed tag list.
		if profile.HasTag(tag) {
			profiles = append(profiles, *profile)
		}
	}
	return profiles, rows.Err()
}

// GetGroup loads a group and its member profiles. Returns nil when the group
// does not exist.
func (r *PropertyReader) GetGroup(ctx context.Context, groupID string) (*billing.Group, error) {
	var (
		group   billing.Group
		rawTags sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, tags FROM property_groups WHERE id = $1`, groupID,
	).Scan(&group.ID, &group.Name, &rawTags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	group.Tags = splitTags(rawTags.String)

	query := fmt.Sprintf(`SELECT %s FROM properties WHERE group_id = $1 ORDER BY id`, propertyColumns)
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		profile, err := scanFeeProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("get group member scan: %w", err)
		}
		group.Members = append(group.Members, *profile)
	}
	return &group, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeeProfile(row rowScanner) (*billing.FeeProfile, error) {
	var (
		profile         billing.FeeProfile
		ownerName       sql.NullString
		ownerEmail      sql.NullString
		newFeeEffective sql.NullTime
		cohostPartner   sql.NullString
		waiverEnabled   any
		waiverExpiry    sql.NullTime
		cohostExternal  any
		shouldAddTax    any
		groupID         sql.NullString
		rawTags         sql.NullString
		transferAccount sql.NullString
	)
	err := row.Scan(
		&profile.PropertyID,
		&ownerName,
		&ownerEmail,
		&profile.CommissionPercent,
		&profile.NewFeePercent,
		&newFeeEffective,
		&profile.CoHostPercent,
		&cohostPartner,
		&profile.TechFee,
		&profile.InsuranceFee,
		&waiverEnabled,
		&waiverExpiry,
		&cohostExternal,
		&shouldAddTax,
		&profile.OccupancyTaxPercent,
		&groupID,
		&rawTags,
		&transferAccount,
	)
	if err != nil {
		return nil, err
	}
	profile.OwnerName = ownerName.String
	profile.OwnerEmail = ownerEmail.String
	if newFeeEffective.Valid {
		profile.NewFeeEffective = newFeeEffective.Time.UTC()
	}
	profile.CoHostPartner = cohostPartner.String
	profile.WaiverEnabled = flexibleBool(waiverEnabled)
	if waiverExpiry.Valid {
		expiry := waiverExpiry.Time.UTC()
		profile.WaiverExpiry = &expiry
	}
	profile.CoHostExternal = flexibleBool(cohostExternal)
	profile.ShouldAddTax = flexibleBool(shouldAddTax)
	profile.GroupID = groupID.String
	profile.Tags = splitTags(rawTags.String)
	profile.TransferAccount = transferAccount.String
	return &profile, nil
}

// flexibleBool normalizes the truthiness variants found in imported property
// records: native booleans, 0/1 numerics, and "true"/"1" strings.
func flexibleBool(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return parseBoolString(v)
	case []byte:
		return parseBoolString(string(v))
	case time.Time:
		return false
	default:
		return false
	}
}

func parseBoolString(raw string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return false
	}
	if parsed, err := strconv.ParseBool(trimmed); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return parsed != 0
	}
	return false
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
