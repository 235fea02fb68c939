package models

import "lidora/internal/docstore"

// Collection names of the persisted layout:
//
//	users/{userId}
//	users/{userId}/paymentMethods/{tokenId}
//	users/{userId}/orders/{orderId}
//	users/{userId}/orders/{orderId}/items/{itemId}
//	users/{userId}/charges/{orderId}
//	merchants/{merchantId}
//	merchants/{merchantId}/menuItems/{itemId}
const (
	UsersCollection          = "users"
	PaymentMethodsCollection = "paymentMethods"
	OrdersCollection         = "orders"
	ItemsCollection          = "items"
	ChargesCollection        = "charges"
	MerchantsCollection      = "merchants"
	MenuItemsCollection      = "menuItems"
)

func UserPath(userID string) docstore.Path {
	return docstore.Doc(UsersCollection, userID)
}

func PaymentMethodPath(userID, methodID string) docstore.Path {
	return UserPath(userID).Child(PaymentMethodsCollection, methodID)
}

func PaymentMethodsOf(userID string) string {
	return UserPath(userID).Collection(PaymentMethodsCollection)
}

func OrderPath(userID, orderID string) docstore.Path {
	return UserPath(userID).Child(OrdersCollection, orderID)
}

func OrdersOf(userID string) string {
	return UserPath(userID).Collection(OrdersCollection)
}

func LineItemPath(userID, orderID, itemID string) docstore.Path {
	return OrderPath(userID, orderID).Child(ItemsCollection, itemID)
}

func LineItemsOf(userID, orderID string) string {
	return OrderPath(userID, orderID).Collection(ItemsCollection)
}

// ChargePath is keyed by order id, so an order can hold one charge record.
func ChargePath(userID, orderID string) docstore.Path {
	return UserPath(userID).Child(ChargesCollection, orderID)
}

func MerchantPath(merchantID string) docstore.Path {
	return docstore.Doc(MerchantsCollection, merchantID)
}

func MenuOf(merchantID string) string {
	return MerchantPath(merchantID).Collection(MenuItemsCollection)
}

func MenuItemPath(merchantID, itemID string) docstore.Path {
	return MerchantPath(merchantID).Child(MenuItemsCollection, itemID)
}
