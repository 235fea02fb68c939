package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lidora/internal/apperr"
	"lidora/internal/fees"
)

const (
	maxQuantityPerAdd = 99
	maxNameLength     = 100
)

// ValidateAddItemRequest rejects requests whose item metadata could not be
// reconstructed later. It runs before any document is read.
func ValidateAddItemRequest(req *AddItemRequest) error {
	if err := validateIDs(req); err != nil {
		return err
	}

	if err := validateDestination(req.Destination); err != nil {
		return err
	}

	if err := validateItem(req.Item); err != nil {
		return err
	}

	if req.Quantity <= 0 {
		return apperr.Invalid("quantity", "quantity must be greater than 0")
	}

	if req.Quantity > maxQuantityPerAdd {
		return apperr.Invalid("quantity", fmt.Sprintf("quantity must be less than or equal to %d", maxQuantityPerAdd))
	}

	return validateLineTotal(req.LineTotal)
}

func validateIDs(req *AddItemRequest) error {
	ids := []struct{ field, value string }{
		{"user_id", req.UserID},
		{"order_id", req.OrderID},
		{"item.id", req.Item.ID},
	}
	for _, id := range ids {
		if err := apperr.CheckID(id.field, id.value); err != nil {
			return err
		}
	}
	return nil
}

func validateDestination(d Destination) error {
	if d.ID == "" {
		return apperr.Invalid("destination.id", "destination id is required")
	}
	if d.Name == "" {
		return apperr.Invalid("destination.name", "destination name is required")
	}
	return nil
}

func validateItem(item Item) error {
	if item.Name == "" {
		return apperr.Invalid("item.name", "item name is required")
	}

	if len(item.Name) > maxNameLength {
		return apperr.Invalid("item.name", fmt.Sprintf("item name must be less than %d characters", maxNameLength))
	}

	if item.Description == "" {
		return apperr.Invalid("item.description", "item description is required")
	}

	if item.ImageURL == "" {
		return apperr.Invalid("item.image_url", "item image is required")
	}
	return nil
}

// validateLineTotal requires at least one cent, since the gateway refuses
// to charge a zero total.
func validateLineTotal(total decimal.Decimal) error {
	if !fees.Round(total).IsPositive() {
		return &apperr.ValidationError{
			Field:   "line_total",
			Message: fmt.Sprintf("line total must be at least 0.01, got %s", total.String()),
			Err:     apperr.ErrInvalidAmount,
		}
	}
	return nil
}
