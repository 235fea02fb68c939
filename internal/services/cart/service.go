// Package cart accumulates menu items into a user's open order. Every add
// rewrites the order aggregate and one line item in a single optimistic
// transaction, so concurrent adds against the same order never lose updates.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lidora/internal/apperr"
	"lidora/internal/docstore"
	"lidora/internal/fees"
	"lidora/internal/logger"
	"lidora/internal/models"
)

// Destination is the merchant an order is for.
type Destination struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is the menu item being added.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// AddItemRequest adds Quantity of Item, priced at LineTotal for the whole
// quantity, to order OrderID.
type AddItemRequest struct {
	UserID      string          `json:"-"`
	OrderID     string          `json:"-"`
	Destination Destination     `json:"destination"`
	Item        Item            `json:"item"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// AddItemResponse is the committed state of the order and the touched line.
type AddItemResponse struct {
	Order    models.Order         `json:"order"`
	LineItem models.OrderLineItem `json:"line_item"`
	Attempts int                  `json:"-"`
}

type Service struct {
	store  *docstore.Store
	fees   *fees.Calculator
	logger *logger.Logger
	now    func() time.Time
}

func NewService(store *docstore.Store, calc *fees.Calculator, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		fees:   calc,
		logger: log,
		now:    time.Now,
	}
}

// AddItem adds an item to an order, creating the order on first add.
func (s *Service) AddItem(ctx context.Context, req *AddItemRequest, requestID string) (*AddItemResponse, error) {
	if err := ValidateAddItemRequest(req); err != nil {
		return nil, err
	}
	rounded := *req
	rounded.LineTotal = fees.Round(req.LineTotal)
	req = &rounded

	orderPath := models.OrderPath(req.UserID, req.OrderID)
	itemPath := models.LineItemPath(req.UserID, req.OrderID, req.Item.ID)

	var resp AddItemResponse
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		resp = AddItemResponse{Attempts: resp.Attempts + 1}

		orderSnap, err := tx.Get(orderPath)
		if err != nil {
			return err
		}
		itemSnap, err := tx.Get(itemPath)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		order, err := s.nextOrder(orderSnap, req, now)
		if err != nil {
			return err
		}
		line, err := nextLineItem(itemSnap, req)
		if err != nil {
			return err
		}

		if err := tx.Set(orderPath, order.Document()); err != nil {
			return err
		}
		if err := tx.Set(itemPath, line.Document()); err != nil {
			return err
		}

		resp.Order = order
		resp.LineItem = line
		return nil
	})
	if err != nil {
		s.logFailure(err, req, requestID)
		return nil, err
	}

	s.logger.Info("item_added", "Item added to order", requestID, map[string]interface{}{
		"user_id":  req.UserID,
		"order_id": req.OrderID,
		"item_id":  req.Item.ID,
		"quantity": req.Quantity,
		"subtotal": resp.Order.Subtotal.StringFixed(fees.Places),
		"total":    resp.Order.Total.StringFixed(fees.Places),
		"attempts": resp.Attempts,
	})
	return &resp, nil
}

// nextOrder folds the request into the stored aggregate. Fees are always
// recomputed from the new subtotal.
func (s *Service) nextOrder(snap docstore.Snapshot, req *AddItemRequest, now time.Time) (models.Order, error) {
	if !snap.Exists {
		b, err := s.fees.Compute(req.LineTotal)
		if err != nil {
			return models.Order{}, err
		}
		order := models.Order{
			ID:              req.OrderID,
			DestinationID:   req.Destination.ID,
			DestinationName: req.Destination.Name,
			Quantity:        req.Quantity,
			Status:          models.StatusOpen,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		order.ApplyFees(b)
		return order, nil
	}

	order, err := models.OrderFromDocument(snap)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %w", apperr.ErrCorruptOrder, err)
	}
	if err := order.CheckTotals(); err != nil {
		return models.Order{}, err
	}
	switch order.Status {
	case models.StatusPlaced:
		return models.Order{}, fmt.Errorf("order %s: %w", order.ID, apperr.ErrOrderAlreadyPlaced)
	case models.StatusPlacing:
		return models.Order{}, fmt.Errorf("order %s: %w", order.ID, apperr.ErrCheckoutInProgress)
	}
	if order.DestinationID != req.Destination.ID {
		return models.Order{}, apperr.Invalid("destination.id",
			fmt.Sprintf("order %s is for destination %s, not %s", order.ID, order.DestinationID, req.Destination.ID))
	}

	b, err := s.fees.Compute(order.Subtotal.Add(req.LineTotal))
	if err != nil {
		return models.Order{}, err
	}
	order.ApplyFees(b)
	order.Quantity += req.Quantity
	order.UpdatedAt = now
	return order, nil
}

func nextLineItem(snap docstore.Snapshot, req *AddItemRequest) (models.OrderLineItem, error) {
	if !snap.Exists {
		return models.OrderLineItem{
			ID:            req.Item.ID,
			DestinationID: req.Destination.ID,
			Name:          req.Item.Name,
			Description:   req.Item.Description,
			ImageURL:      req.Item.ImageURL,
			Quantity:      req.Quantity,
			Total:         req.LineTotal,
		}, nil
	}

	line, err := models.LineItemFromDocument(snap)
	if err != nil {
		return models.OrderLineItem{}, fmt.Errorf("%w: %w", apperr.ErrCorruptOrder, err)
	}
	line.Quantity += req.Quantity
	line.Total = fees.Round(line.Total.Add(req.LineTotal))
	return line, nil
}

func (s *Service) logFailure(err error, req *AddItemRequest, requestID string) {
	fields := map[string]interface{}{
		"user_id":  req.UserID,
		"order_id": req.OrderID,
		"item_id":  req.Item.ID,
	}
	switch {
	case apperr.IsIntegrity(err):
		fields["path"] = string(models.OrderPath(req.UserID, req.OrderID))
		s.logger.Error("order_corrupt", "Stored order failed integrity checks", requestID, err, fields)
	case apperr.Retriable(err):
		s.logger.Warn("add_item_conflict", "Gave up adding item after repeated conflicts", requestID, fields)
	default:
		s.logger.Debug("add_item_rejected", err.Error(), requestID, fields)
	}
}
