package models

import "lidora/internal/docstore"

// PaymentMethod is a tokenized card. Only display metadata is kept; the
// card number and CVC never reach storage.
type PaymentMethod struct {
	ID        string `json:"id"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
	IsPrimary bool   `json:"is_primary"`
}

func PaymentMethodFromDocument(snap docstore.Snapshot) (PaymentMethod, error) {
	r := newFieldReader(snap)
	pm := PaymentMethod{
		ID:        snap.ID(),
		Brand:     r.str("brand", false),
		Last4:     r.str("last4", true),
		ExpMonth:  r.integer("exp_month", true),
		ExpYear:   r.integer("exp_year", true),
		IsPrimary: r.boolean("is_primary"),
	}
	if r.err != nil {
		return PaymentMethod{}, r.err
	}
	return pm, nil
}

func (pm PaymentMethod) Document() docstore.Data {
	return docstore.Data{
		"brand":      pm.Brand,
		"last4":      pm.Last4,
		"exp_month":  pm.ExpMonth,
		"exp_year":   pm.ExpYear,
		"is_primary": pm.IsPrimary,
	}
}
