// Package checkout turns an open order into a placed one: it charges the
// order total through the payment gateway and then records the charge and
// the new status together.
//
// The order of effects is freeze, charge, then record and mark. A failure after the
// gateway confirmed the charge is reported as apperr.ErrChargedNotRecorded
// with the confirmation id, so the worst outcome is a charge that
// reconciliation has to attach, never a placed order nobody paid for.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lidora/internal/apperr"
	"lidora/internal/docstore"
	"lidora/internal/fees"
	"lidora/internal/gateway"
	"lidora/internal/logger"
	"lidora/internal/models"
)

// recordTimeout bounds the bookkeeping after a confirmed charge. It runs
// detached from the caller's cancellation.
const recordTimeout = 15 * time.Second

// EventPublisher announces placed orders to the rest of the system.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, msg *models.OrderPlacedMessage) error
}

// PlaceOrderRequest places OrderID for UserID. An empty PaymentMethodID
// charges the user's primary payment method.
type PlaceOrderRequest struct {
	UserID          string `json:"-"`
	OrderID         string `json:"-"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

type PlaceOrderResponse struct {
	Order  models.Order        `json:"order"`
	Charge models.ChargeRecord `json:"charge"`
}

// ChargeInput is everything needed to charge one order.
type ChargeInput struct {
	OrderID         string
	DestinationID   string
	DestinationName string
	Subtotal        decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   models.PaymentMethod
}

type Service struct {
	store     *docstore.Store
	gateway   gateway.Gateway
	publisher EventPublisher
	logger    *logger.Logger
	currency  string
	now       func() time.Time
}

// NewService wires the orchestrator. publisher may be nil when events are
// disabled.
func NewService(store *docstore.Store, gw gateway.Gateway, publisher EventPublisher, currency string, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gw,
		publisher: publisher,
		logger:    log,
		currency:  strings.ToLower(currency),
		now:       time.Now,
	}
}

// PlaceOrder charges an open order and marks it placed. The order is frozen
// in StatusPlacing before the gateway is called, so its total cannot move
// under the charge. A repeated or concurrent call for an order whose charge
// is already recorded under the same confirmation returns the placed order.
func (s *Service) PlaceOrder(ctx context.Context, req *PlaceOrderRequest, requestID string) (*PlaceOrderResponse, error) {
	if err := apperr.CheckID("user_id", req.UserID); err != nil {
		return nil, err
	}
	if err := apperr.CheckID("order_id", req.OrderID); err != nil {
		return nil, err
	}

	if _, err := s.loadOpenOrder(ctx, req.UserID, req.OrderID); err != nil {
		s.logFailure("place_order_rejected", err, req, requestID)
		return nil, err
	}

	pm, err := s.resolvePaymentMethod(ctx, req.UserID, req.PaymentMethodID)
	if err != nil {
		s.logFailure("payment_method_unresolved", err, req, requestID)
		return nil, err
	}

	order, err := s.freeze(ctx, req.UserID, req.OrderID)
	if err != nil {
		s.logFailure("place_order_rejected", err, req, requestID)
		return nil, err
	}

	charge, err := s.CompleteCharge(ctx, ChargeInput{
		OrderID:         order.ID,
		DestinationID:   order.DestinationID,
		DestinationName: order.DestinationName,
		Subtotal:        order.Subtotal,
		Total:           order.Total,
		PaymentMethod:   pm,
	})
	if err != nil {
		s.logFailure("charge_failed", err, req, requestID)
		if chargeRejected(err) {
			s.reopen(ctx, req, requestID)
		}
		return nil, err
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	placed, recorded, replayed, err := s.recordCharge(recordCtx, req.UserID, charge)
	if err != nil {
		s.logger.Error("charged_not_recorded", "Charge confirmed but order not marked placed", requestID, err, map[string]interface{}{
			"user_id":         req.UserID,
			"order_id":        req.OrderID,
			"confirmation_id": charge.ConfirmationID,
			"total":           charge.Total.StringFixed(fees.Places),
			"path":            string(models.OrderPath(req.UserID, req.OrderID)),
		})
		return nil, &apperr.ChargedNotRecordedError{OrderID: req.OrderID, ConfirmationID: charge.ConfirmationID, Err: err}
	}
	if replayed {
		s.logger.Info("order_already_placed", "Charge already recorded for order", requestID, map[string]interface{}{
			"user_id":         req.UserID,
			"order_id":        req.OrderID,
			"confirmation_id": recorded.ConfirmationID,
		})
		return &PlaceOrderResponse{Order: placed, Charge: recorded}, nil
	}

	s.logger.Info("order_placed", "Order charged and placed", requestID, map[string]interface{}{
		"user_id":         req.UserID,
		"order_id":        req.OrderID,
		"confirmation_id": charge.ConfirmationID,
		"total":           charge.Total.StringFixed(fees.Places),
	})

	if s.publisher != nil {
		msg := models.NewOrderPlacedMessage(req.UserID, placed, charge)
		if err := s.publisher.PublishOrderPlaced(recordCtx, msg); err != nil {
			s.logger.Warn("order_event_failed", "Failed to publish order placed event", requestID, map[string]interface{}{
				"order_id": req.OrderID,
				"error":    err.Error(),
			})
		}
	}

	return &PlaceOrderResponse{Order: placed, Charge: charge}, nil
}

// freeze moves an open order to StatusPlacing and returns it. An order that
// is already placing is returned as is, so a retry after an unknown gateway
// outcome charges the same total under the same idempotency key.
func (s *Service) freeze(ctx context.Context, userID, orderID string) (models.Order, error) {
	path := models.OrderPath(userID, orderID)
	var frozen models.Order
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(path)
		if err != nil {
			return err
		}
		order, err := openOrder(snap)
		if err != nil {
			return err
		}
		if order.Status == models.StatusOpen {
			order.Status = models.StatusPlacing
			if err := tx.Update(path, docstore.Data{"status": string(models.StatusPlacing)}); err != nil {
				return err
			}
		}
		frozen = order
		return nil
	})
	return frozen, err
}

// reopen returns a placing order to StatusOpen after the gateway definitely
// refused the charge. Failing to reopen leaves the order placing, which a
// later PlaceOrder can still complete.
func (s *Service) reopen(ctx context.Context, req *PlaceOrderRequest, requestID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	path := models.OrderPath(req.UserID, req.OrderID)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(path)
		if err != nil || !snap.Exists {
			return err
		}
		order, err := models.OrderFromDocument(snap)
		if err != nil || order.Status != models.StatusPlacing {
			return err
		}
		return tx.Update(path, docstore.Data{"status": string(models.StatusOpen)})
	})
	if err != nil {
		s.logger.Warn("order_reopen_failed", "Order left placing after a refused charge", requestID, map[string]interface{}{
			"user_id":  req.UserID,
			"order_id": req.OrderID,
			"error":    err.Error(),
		})
	}
}

// chargeRejected reports whether err means the gateway certainly did not
// take the money. Unavailability and cancellation leave the outcome unknown.
func chargeRejected(err error) bool {
	switch {
	case errors.Is(err, apperr.ErrChargedNotRecorded),
		errors.Is(err, apperr.ErrGatewayUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, apperr.ErrGateway),
		errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrCorruptOrder):
		return true
	default:
		return false
	}
}

func (s *Service) loadOpenOrder(ctx context.Context, userID, orderID string) (models.Order, error) {
	snap, err := s.store.Get(ctx, models.OrderPath(userID, orderID))
	if err != nil {
		return models.Order{}, err
	}
	return openOrder(snap)
}

// openOrder checks that snap is an intact order that can still be placed.
func openOrder(snap docstore.Snapshot) (models.Order, error) {
	if !snap.Exists {
		return models.Order{}, fmt.Errorf("%s: %w", snap.Path, apperr.ErrOrderNotFound)
	}
	order, err := models.OrderFromDocument(snap)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %w", apperr.ErrCorruptOrder, err)
	}
	if order.Status == models.StatusPlaced {
		return models.Order{}, fmt.Errorf("order %s: %w", order.ID, apperr.ErrOrderAlreadyPlaced)
	}
	if err := order.CheckTotals(); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

func (s *Service) resolvePaymentMethod(ctx context.Context, userID, methodID string) (models.PaymentMethod, error) {
	if methodID == "" {
		snap, err := s.store.Get(ctx, models.UserPath(userID))
		if err != nil {
			return models.PaymentMethod{}, err
		}
		if !snap.Exists {
			return models.PaymentMethod{}, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
		}
		user, err := models.UserFromDocument(snap)
		if err != nil {
			return models.PaymentMethod{}, err
		}
		if user.PrimaryPaymentMethod == "" {
			return models.PaymentMethod{}, apperr.Invalid("payment_method_id", "no payment method given and the user has no primary payment method")
		}
		methodID = user.PrimaryPaymentMethod
	}

	snap, err := s.store.Get(ctx, models.PaymentMethodPath(userID, methodID))
	if err != nil {
		return models.PaymentMethod{}, err
	}
	if !snap.Exists {
		return models.PaymentMethod{}, fmt.Errorf("payment method %s: %w", methodID, apperr.ErrNotFound)
	}
	return models.PaymentMethodFromDocument(snap)
}

// CompleteCharge charges in.Total to the payment method on behalf of the
// destination. The order id is the idempotency key, so repeating a charge
// for the same order returns the original confirmation. The record carries
// the amount the gateway confirmed; a confirmation for any other amount is
// reported as charged but not recorded.
func (s *Service) CompleteCharge(ctx context.Context, in ChargeInput) (models.ChargeRecord, error) {
	switch {
	case in.OrderID == "":
		return models.ChargeRecord{}, apperr.Invalid("order_id", "order_id is required")
	case in.DestinationID == "":
		return models.ChargeRecord{}, apperr.Invalid("destination", "destination is required")
	case in.DestinationName == "":
		return models.ChargeRecord{}, apperr.Invalid("destination_name", "destination name is required")
	case in.PaymentMethod.ID == "":
		return models.ChargeRecord{}, apperr.Invalid("payment_method", "payment method token is required")
	case in.Subtotal.IsNegative() || in.Total.IsNegative():
		return models.ChargeRecord{}, fmt.Errorf("%w: order %s has negative amounts", apperr.ErrCorruptOrder, in.OrderID)
	case in.Total.LessThan(in.Subtotal):
		return models.ChargeRecord{}, fmt.Errorf("%w: order %s total %s is below subtotal %s",
			apperr.ErrCorruptOrder, in.OrderID, in.Total, in.Subtotal)
	}

	cents := fees.Cents(in.Total)
	conf, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		Token:          in.PaymentMethod.ID,
		AmountCents:    cents,
		Currency:       s.currency,
		Destination:    in.DestinationID,
		Description:    fmt.Sprintf("Order %s from %s", in.OrderID, in.DestinationName),
		IdempotencyKey: in.OrderID,
	})
	if err != nil {
		return models.ChargeRecord{}, err
	}
	if conf.AmountCents != cents {
		return models.ChargeRecord{}, &apperr.ChargedNotRecordedError{
			OrderID:        in.OrderID,
			ConfirmationID: conf.ID,
			Err:            fmt.Errorf("gateway confirmed %d cents, order total is %d cents", conf.AmountCents, cents),
		}
	}

	return models.ChargeRecord{
		OrderID:         in.OrderID,
		PaymentMethodID: in.PaymentMethod.ID,
		ConfirmationID:  conf.ID,
		Subtotal:        fees.Round(in.Subtotal),
		Total:           decimal.New(conf.AmountCents, -fees.Places),
		Currency:        s.currency,
		DestinationID:   in.DestinationID,
		DestinationName: in.DestinationName,
		CreatedAt:       s.now().UTC(),
	}, nil
}

// recordCharge writes the charge record and marks the order placed in one
// transaction. The order must not be placed yet and its total must match the
// charged amount. When the record already exists under the same
// confirmation, a concurrent call won the race: the stored order and record
// are returned with replayed set.
func (s *Service) recordCharge(ctx context.Context, userID string, charge models.ChargeRecord) (placed models.Order, recorded models.ChargeRecord, replayed bool, err error) {
	orderPath := models.OrderPath(userID, charge.OrderID)
	chargePath := models.ChargePath(userID, charge.OrderID)

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		replayed = false
		orderSnap, err := tx.Get(orderPath)
		if err != nil {
			return err
		}
		chargeSnap, err := tx.Get(chargePath)
		if err != nil {
			return err
		}
		if chargeSnap.Exists {
			existing, err := models.ChargeRecordFromDocument(chargeSnap)
			if err != nil {
				return err
			}
			if existing.ConfirmationID != charge.ConfirmationID {
				return fmt.Errorf("%s already exists for confirmation %s: %w",
					chargePath, existing.ConfirmationID, apperr.ErrOrderAlreadyPlaced)
			}
			if !orderSnap.Exists {
				return fmt.Errorf("%s: %w", orderPath, apperr.ErrOrderNotFound)
			}
			order, err := models.OrderFromDocument(orderSnap)
			if err != nil {
				return fmt.Errorf("%w: %w", apperr.ErrCorruptOrder, err)
			}
			if order.Status != models.StatusPlaced || order.ChargeID != existing.ConfirmationID {
				return fmt.Errorf("%w: %s is recorded but order %s is %s", apperr.ErrCorruptOrder, chargePath, order.ID, order.Status)
			}
			placed, recorded, replayed = order, existing, true
			return nil
		}

		order, err := openOrder(orderSnap)
		if err != nil {
			return err
		}
		if fees.Cents(order.Total) != fees.Cents(charge.Total) {
			return fmt.Errorf("order %s total is %s but %s was charged",
				order.ID, order.Total.StringFixed(fees.Places), charge.Total.StringFixed(fees.Places))
		}

		placedAt := charge.CreatedAt
		order.Status = models.StatusPlaced
		order.ChargeID = charge.ConfirmationID
		order.PlacedAt = &placedAt
		order.UpdatedAt = placedAt

		if err := tx.Set(chargePath, charge.Document()); err != nil {
			return err
		}
		if err := tx.Set(orderPath, order.Document()); err != nil {
			return err
		}
		placed, recorded = order, charge
		return nil
	})
	return placed, recorded, replayed, err
}

func (s *Service) logFailure(action string, err error, req *PlaceOrderRequest, requestID string) {
	fields := map[string]interface{}{
		"user_id":  req.UserID,
		"order_id": req.OrderID,
	}
	switch {
	case errors.Is(err, apperr.ErrChargedNotRecorded):
		var cnr *apperr.ChargedNotRecordedError
		if errors.As(err, &cnr) {
			fields["confirmation_id"] = cnr.ConfirmationID
		}
		s.logger.Error("charged_not_recorded", "Charge confirmed but order not marked placed", requestID, err, fields)
	case apperr.IsIntegrity(err):
		fields["path"] = string(models.OrderPath(req.UserID, req.OrderID))
		s.logger.Error(action, "Stored data failed integrity checks", requestID, err, fields)
	case errors.Is(err, apperr.ErrGateway):
		fields["retriable"] = apperr.Retriable(err)
		s.logger.Warn(action, err.Error(), requestID, fields)
	default:
		s.logger.Debug(action, err.Error(), requestID, fields)
	}
}
