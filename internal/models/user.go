package models

import "lidora/internal/docstore"

// Address is the delivery location. It stays unset until the customer
// first picks one.
type Address struct {
	Line1      string `json:"line1"`
	PostalCode string `json:"postal_code"`
	State      string `json:"state"`
}

// User is a customer profile. Profile fields are filled in progressively
// after signup, so all of them are optional.
type User struct {
	ID                   string   `json:"id"`
	FirstName            string   `json:"first_name,omitempty"`
	LastName             string   `json:"last_name,omitempty"`
	Email                string   `json:"email,omitempty"`
	Phone                string   `json:"phone,omitempty"`
	Address              *Address `json:"address,omitempty"`
	PrimaryPaymentMethod string   `json:"primary_payment_method,omitempty"`
}

// UserFromDocument decodes users/{userId}.
func UserFromDocument(snap docstore.Snapshot) (User, error) {
	r := newFieldReader(snap)
	u := User{
		ID:                   snap.ID(),
		FirstName:            r.str("first_name", false),
		LastName:             r.str("last_name", false),
		Email:                r.str("email", false),
		Phone:                r.str("phone", false),
		PrimaryPaymentMethod: r.str("primary_payment_method", false),
	}
	if obj, ok := r.object("address"); ok {
		ar := &fieldReader{path: r.path + ".address", data: obj}
		u.Address = &Address{
			Line1:      ar.str("line1", true),
			PostalCode: ar.str("postal_code", true),
			State:      ar.str("state", true),
		}
		if ar.err != nil && r.err == nil {
			r.err = ar.err
		}
	}
	if r.err != nil {
		return User{}, r.err
	}
	return u, nil
}

// AddressDocument is the stored form of an address.
func AddressDocument(a Address) map[string]any {
	return map[string]any{
		"line1":       a.Line1,
		"postal_code": a.PostalCode,
		"state":       a.State,
	}
}
