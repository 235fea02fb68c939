package models

import (
	"github.com/shopspring/decimal"

	"lidora/internal/docstore"
)

// Chef is a merchant cooking for customers. The catalog is maintained
// elsewhere; this service only reads it.
type Chef struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Bio       string `json:"bio,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// DisplayName is what orders record as the destination name.
func (c Chef) DisplayName() string {
	return c.FirstName
}

// MenuItem is a dish on a chef's menu.
type MenuItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

func ChefFromDocument(snap docstore.Snapshot) (Chef, error) {
	r := newFieldReader(snap)
	c := Chef{
		ID:        snap.ID(),
		FirstName: r.str("first_name", true),
		LastName:  r.str("last_name", false),
		Bio:       r.str("bio", false),
		ImageURL:  r.str("image_url", false),
	}
	if r.err != nil {
		return Chef{}, r.err
	}
	return c, nil
}

func MenuItemFromDocument(snap docstore.Snapshot) (MenuItem, error) {
	r := newFieldReader(snap)
	m := MenuItem{
		ID:          snap.ID(),
		Name:        r.str("name", true),
		Description: r.str("description", false),
		ImageURL:    r.str("image_url", false),
		Price:       r.money("price", true),
	}
	if r.err == nil && m.Price.IsNegative() {
		r.fail("price", "is negative")
	}
	if r.err != nil {
		return MenuItem{}, r.err
	}
	return m, nil
}
