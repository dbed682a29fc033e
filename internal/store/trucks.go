package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cravvr/internal/models"

	"github.com/google/uuid"
)

const truckColumns = "id, owner_id, name, stripe_account_id, onboarding_complete, charges_enabled"

// GetTruck retrieves a truck by ID
func (s *Store) GetTruck(ctx context.Context, id uuid.UUID) (*models.Truck, error) {
	var truck models.Truck
	err := s.db.GetContext(ctx, &truck, "SELECT "+truckColumns+" FROM trucks WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("truck %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &truck, nil
}

// SetTruckStripeAccount links a connected account to a truck that has none yet.
// It returns the account id stored on the truck, which differs from accountID when
// another request linked an account first.
func (s *Store) SetTruckStripeAccount(ctx context.Context, truckID uuid.UUID, accountID string) (string, error) {
	var stored string
	err := s.db.GetContext(ctx, &stored, `
		UPDATE trucks SET stripe_account_id = COALESCE(stripe_account_id, $1)
		WHERE id = $2
		RETURNING stripe_account_id`, accountID, truckID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	return stored, err
}

// UpdateTruckOnboarding records the connected account's capability flags
func (s *Store) UpdateTruckOnboarding(ctx context.Context, accountID string, chargesEnabled, complete bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trucks SET charges_enabled = $1, onboarding_complete = $2
		WHERE stripe_account_id = $3`, chargesEnabled, complete, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("truck with account %s: %w", accountID, ErrNotFound)
	}
	return nil
}
