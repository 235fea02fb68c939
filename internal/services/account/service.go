// Package account maintains a user's profile and saved payment methods.
//
// The user document carries a pointer to the primary payment method and
// every promotion rewrites it, so two concurrent promotions always conflict
// and one of them is retried against the other's result.
package account

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"lidora/internal/apperr"
	"lidora/internal/docstore"
	"lidora/internal/gateway"
	"lidora/internal/logger"
	"lidora/internal/models"
)

// UserDetails holds the profile fields to change. Empty fields are left
// as they are.
type UserDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type Service struct {
	store   *docstore.Store
	gateway gateway.Gateway
	logger  *logger.Logger
	now     func() time.Time
}

func NewService(store *docstore.Store, gw gateway.Gateway, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		gateway: gw,
		logger:  log,
		now:     time.Now,
	}
}

// SaveUserDetails merges the non-empty fields of details into the profile,
// creating it if needed.
func (s *Service) SaveUserDetails(ctx context.Context, userID string, details UserDetails, requestID string) (*models.User, error) {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return nil, err
	}

	fields := make(docstore.Data)
	for key, v := range map[string]string{
		"first_name": details.FirstName,
		"last_name":  details.LastName,
		"email":      details.Email,
		"phone":      details.Phone,
	} {
		if v = strings.TrimSpace(v); v != "" {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return nil, apperr.Invalid("details", "at least one profile field is required")
	}
	if email, ok := fields["email"].(string); ok {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, apperr.Invalid("email", fmt.Sprintf("%q is not an email address", email))
		}
	}
	if phone, ok := fields["phone"].(string); ok {
		if err := validatePhone(phone); err != nil {
			return nil, err
		}
	}
	fields["updated_at"] = s.now().UTC().Format(time.RFC3339Nano)

	user, err := s.mergeUser(ctx, userID, fields)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user_details_saved", "User profile updated", requestID, map[string]interface{}{
		"user_id": userID,
		"fields":  len(fields) - 1,
	})
	return user, nil
}

func validatePhone(phone string) error {
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-() .", r):
		default:
			return apperr.Invalid("phone", fmt.Sprintf("unexpected character %q", r))
		}
	}
	if digits < 7 || digits > 15 {
		return apperr.Invalid("phone", "must have 7 to 15 digits")
	}
	return nil
}

// UpdateUserLocation sets the delivery address.
func (s *Service) UpdateUserLocation(ctx context.Context, userID string, addr models.Address, requestID string) (*models.User, error) {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return nil, err
	}
	addr = models.Address{
		Line1:      strings.TrimSpace(addr.Line1),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		State:      strings.ToUpper(strings.TrimSpace(addr.State)),
	}
	if addr.Line1 == "" {
		return nil, apperr.Invalid("line1", "street address is required")
	}
	if addr.PostalCode == "" {
		return nil, apperr.Invalid("postal_code", "postal code is required")
	}
	if addr.State == "" {
		return nil, apperr.Invalid("state", "state is required")
	}

	user, err := s.mergeUser(ctx, userID, docstore.Data{
		"address":    models.AddressDocument(addr),
		"updated_at": s.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user_location_updated", "User location updated", requestID, map[string]interface{}{
		"user_id": userID,
		"state":   addr.State,
	})
	return user, nil
}

func (s *Service) mergeUser(ctx context.Context, userID string, fields docstore.Data) (*models.User, error) {
	path := models.UserPath(userID)
	var user models.User
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(path)
		if err != nil {
			return err
		}
		merged := docstore.Data{}
		for k, v := range snap.Data {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
		user, err = models.UserFromDocument(docstore.Snapshot{Path: path, Data: merged, Exists: true})
		if err != nil {
			return err
		}
		return tx.Set(path, fields, docstore.MergeAll)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AddCard tokenizes card and saves the token's display metadata. The card
// becomes primary when makePrimary is set or the user has no primary yet.
func (s *Service) AddCard(ctx context.Context, userID string, card gateway.Card, makePrimary bool, requestID string) (*models.PaymentMethod, error) {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return nil, err
	}

	tok, err := s.gateway.TokenizeCard(ctx, card)
	if err != nil {
		s.logger.Warn("card_tokenize_failed", err.Error(), requestID, map[string]interface{}{
			"user_id": userID,
			"card":    card.String(),
		})
		return nil, err
	}

	pm := models.PaymentMethod{
		ID:       tok.ID,
		Brand:    tok.Brand,
		Last4:    tok.Last4,
		ExpMonth: tok.ExpMonth,
		ExpYear:  tok.ExpYear,
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		user, methods, err := s.readWallet(tx, userID)
		if err != nil {
			return err
		}
		pm.IsPrimary = makePrimary || user.PrimaryPaymentMethod == ""
		if pm.IsPrimary {
			if err := promote(tx, userID, pm.ID, methods); err != nil {
				return err
			}
		}
		return tx.Set(models.PaymentMethodPath(userID, pm.ID), pm.Document())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card_added", "Payment method saved", requestID, map[string]interface{}{
		"user_id":    userID,
		"method_id":  pm.ID,
		"last4":      pm.Last4,
		"is_primary": pm.IsPrimary,
	})
	return &pm, nil
}

// SetPrimaryPaymentMethod promotes methodID and demotes every other primary
// in one transaction.
func (s *Service) SetPrimaryPaymentMethod(ctx context.Context, userID, methodID, requestID string) error {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return err
	}
	if err := apperr.CheckID("payment_method_id", methodID); err != nil {
		return err
	}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		_, methods, err := s.readWallet(tx, userID)
		if err != nil {
			return err
		}
		found := false
		for _, m := range methods {
			if m.ID == methodID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("payment method %s: %w", methodID, apperr.ErrNotFound)
		}
		return promote(tx, userID, methodID, methods)
	})
	if err != nil {
		return err
	}

	s.logger.Info("primary_payment_method_set", "Primary payment method changed", requestID, map[string]interface{}{
		"user_id":   userID,
		"method_id": methodID,
	})
	return nil
}

// RemovePaymentMethod deletes a saved method. Removing the primary leaves
// the user without one.
func (s *Service) RemovePaymentMethod(ctx context.Context, userID, methodID, requestID string) error {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return err
	}
	if err := apperr.CheckID("payment_method_id", methodID); err != nil {
		return err
	}

	path := models.PaymentMethodPath(userID, methodID)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		userSnap, err := tx.Get(models.UserPath(userID))
		if err != nil {
			return err
		}
		snap, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return fmt.Errorf("payment method %s: %w", methodID, apperr.ErrNotFound)
		}

		if userSnap.Exists {
			user, err := models.UserFromDocument(userSnap)
			if err != nil {
				return err
			}
			if user.PrimaryPaymentMethod == methodID {
				if err := tx.Set(userSnap.Path, docstore.Data{"primary_payment_method": nil}, docstore.MergeAll); err != nil {
					return err
				}
			}
		}
		return tx.Delete(path)
	})
	if err != nil {
		return err
	}

	s.logger.Info("payment_method_removed", "Payment method removed", requestID, map[string]interface{}{
		"user_id":   userID,
		"method_id": methodID,
	})
	return nil
}

// readWallet reads the user and all of their payment methods inside tx.
func (s *Service) readWallet(tx *docstore.Tx, userID string) (models.User, []models.PaymentMethod, error) {
	userSnap, err := tx.Get(models.UserPath(userID))
	if err != nil {
		return models.User{}, nil, err
	}
	user := models.User{ID: userID}
	if userSnap.Exists {
		if user, err = models.UserFromDocument(userSnap); err != nil {
			return models.User{}, nil, err
		}
	}

	snaps, err := tx.List(models.PaymentMethodsOf(userID))
	if err != nil {
		return models.User{}, nil, err
	}
	methods := make([]models.PaymentMethod, 0, len(snaps))
	for _, snap := range snaps {
		m, err := models.PaymentMethodFromDocument(snap)
		if err != nil {
			return models.User{}, nil, err
		}
		methods = append(methods, m)
	}
	return user, methods, nil
}

// promote queues the writes that make methodID the only primary.
func promote(tx *docstore.Tx, userID, methodID string, methods []models.PaymentMethod) error {
	for _, m := range methods {
		switch {
		case m.ID == methodID && !m.IsPrimary:
			if err := tx.Update(models.PaymentMethodPath(userID, m.ID), docstore.Data{"is_primary": true}); err != nil {
				return err
			}
		case m.ID != methodID && m.IsPrimary:
			if err := tx.Update(models.PaymentMethodPath(userID, m.ID), docstore.Data{"is_primary": false}); err != nil {
				return err
			}
		}
	}
	return tx.Set(models.UserPath(userID), docstore.Data{"primary_payment_method": methodID}, docstore.MergeAll)
}
