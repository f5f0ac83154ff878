package auth

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrTenantMismatch indicates resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// PropertyTenantChecker validates property tenant ownership.
type PropertyTenantChecker interface {
	EnsurePropertyTenant(ctx context.Context, tenantID, propertyID string) error
}

// PropertyChecker checks property ownership against the portfolio tables.
type PropertyChecker struct {
	db *sql.DB
}

// NewPropertyChecker constructs a PropertyChecker.
func NewPropertyChecker(db *sql.DB) *PropertyChecker {
	if db == nil {
		return nil
	}
	return &PropertyChecker{db: db}
}

// EnsurePropertyTenant verifies property belongs to tenant.
func (c *PropertyChecker) EnsurePropertyTenant(ctx context.Context, tenantID, propertyID string) error {
	if c == nil || c.db == nil {
		return nil
	}
	if tenantID == "" || propertyID == "" {
		return nil
	}
	var owner sql.NullString
	err := c.db.QueryRowContext(ctx, `
SELECT tenant_id FROM properties WHERE id = $1 LIMIT 1`, propertyID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if owner.Valid && owner.String != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
