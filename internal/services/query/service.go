// Package query reads typed records for display. Nothing here writes.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"lidora/internal/apperr"
	"lidora/internal/docstore"
	"lidora/internal/logger"
	"lidora/internal/models"
)

// Service provides the read side of users, catalog and orders
type Service struct {
	store  *docstore.Store
	logger *logger.Logger
}

// NewService creates a new query service
func NewService(store *docstore.Store, logger *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// FetchUser retrieves a user profile
func (s *Service) FetchUser(ctx context.Context, userID, requestID string) (*models.User, error) {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return nil, err
	}

	snap, err := s.store.Get(ctx, models.UserPath(userID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	user, err := models.UserFromDocument(snap)
	if err != nil {
		s.logDecodeFailure(err, requestID)
		return nil, err
	}
	return &user, nil
}

// FetchPaymentMethods lists the user's saved cards ordered by id
func (s *Service) FetchPaymentMethods(ctx context.Context, userID, requestID string) ([]models.PaymentMethod, error) {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return nil, err
	}

	snaps, err := s.store.List(ctx, models.PaymentMethodsOf(userID))
	if err != nil {
		return nil, err
	}
	return decodeAll(s, snaps, models.PaymentMethodFromDocument, requestID)
}

// FetchPrimaryPaymentMethod returns the method the user charges by default
func (s *Service) FetchPrimaryPaymentMethod(ctx context.Context, userID, requestID string) (*models.PaymentMethod, error) {
	user, err := s.FetchUser(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	if user.PrimaryPaymentMethod == "" {
		return nil, fmt.Errorf("primary payment method of user %s: %w", userID, apperr.ErrNotFound)
	}

	snap, err := s.store.Get(ctx, models.PaymentMethodPath(userID, user.PrimaryPaymentMethod))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, fmt.Errorf("payment method %s: %w", user.PrimaryPaymentMethod, apperr.ErrNotFound)
	}
	pm, err := models.PaymentMethodFromDocument(snap)
	if err != nil {
		s.logDecodeFailure(err, requestID)
		return nil, err
	}
	return &pm, nil
}

// FetchChefs lists every merchant in the catalog
func (s *Service) FetchChefs(ctx context.Context, requestID string) ([]models.Chef, error) {
	snaps, err := s.store.List(ctx, models.MerchantsCollection)
	if err != nil {
		return nil, err
	}
	return decodeAll(s, snaps, models.ChefFromDocument, requestID)
}

// FetchMenu lists a chef's menu items. An unknown chef is NotFound; a known
// chef with no items has an empty menu.
func (s *Service) FetchMenu(ctx context.Context, chefID, requestID string) ([]models.MenuItem, error) {
	if err := apperr.CheckID("chef_id", chefID); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	var chef docstore.Snapshot
	var items []docstore.Snapshot
	g.Go(func() error {
		var err error
		chef, err = s.store.Get(gctx, models.MerchantPath(chefID))
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.store.List(gctx, models.MenuOf(chefID))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !chef.Exists {
		return nil, fmt.Errorf("chef %s: %w", chefID, apperr.ErrNotFound)
	}
	return decodeAll(s, items, models.MenuItemFromDocument, requestID)
}

// FetchOrder reads an order aggregate with its line items. Both reads run
// concurrently; they are not one snapshot, so a concurrent add may show up
// in one and not the other.
func (s *Service) FetchOrder(ctx context.Context, userID, orderID, requestID string) (*models.Order, error) {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return nil, err
	}
	if err := apperr.CheckID("order_id", orderID); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	var orderSnap docstore.Snapshot
	var itemSnaps []docstore.Snapshot
	g.Go(func() error {
		var err error
		orderSnap, err = s.store.Get(gctx, models.OrderPath(userID, orderID))
		return err
	})
	g.Go(func() error {
		var err error
		itemSnaps, err = s.store.List(gctx, models.LineItemsOf(userID, orderID))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !orderSnap.Exists {
		return nil, fmt.Errorf("%s: %w", orderSnap.Path, apperr.ErrOrderNotFound)
	}
	order, err := models.OrderFromDocument(orderSnap)
	if err != nil {
		s.logDecodeFailure(err, requestID)
		return nil, err
	}
	if err := order.CheckTotals(); err != nil {
		s.logDecodeFailure(err, requestID)
		return nil, err
	}

	order.Items, err = decodeAll(s, itemSnaps, models.LineItemFromDocument, requestID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchUpcomingOrders lists the user's placed orders, newest first
func (s *Service) FetchUpcomingOrders(ctx context.Context, userID, requestID string) ([]models.Order, error) {
	if err := apperr.CheckID("user_id", userID); err != nil {
		return nil, err
	}

	snaps, err := s.store.List(ctx, models.OrdersOf(userID))
	if err != nil {
		return nil, err
	}
	orders, err := decodeAll(s, snaps, models.OrderFromDocument, requestID)
	if err != nil {
		return nil, err
	}

	upcoming := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == models.StatusPlaced {
			upcoming = append(upcoming, o)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return placedAt(upcoming[i]).After(placedAt(upcoming[j]))
	})
	return upcoming, nil
}

func placedAt(o models.Order) time.Time {
	if o.PlacedAt != nil {
		return *o.PlacedAt
	}
	return o.UpdatedAt
}

func decodeAll[T any](s *Service, snaps []docstore.Snapshot, decode func(docstore.Snapshot) (T, error), requestID string) ([]T, error) {
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		v, err := decode(snap)
		if err != nil {
			s.logDecodeFailure(err, requestID)
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) logDecodeFailure(err error, requestID string) {
	s.logger.Error("document_decode_failed", "Stored document failed to decode", requestID, err, nil)
}
