package shopify

import (
	"encoding/json"
	"strings"
)

// Order is the subset of a Shopify order used for pickup notifications
type Order struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	FinancialStatus   string     `json:"financial_status"`
	Customer          *Customer  `json:"customer,omitempty"`
	LineItems         []LineItem `json:"line_items,omitempty"`
}

// Customer is the customer sub-record of an order
type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// LineItem is one order line
type LineItem struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
}

// UnmarshalJSON accepts the numeric ids the Admin API returns
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	aux := struct {
		*plain
		ID json.Number `json:"id"`
	}{plain: (*plain)(o)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.ID = aux.ID.String()
	return nil
}

// RecipientEmail returns the order email, falling back to the customer email
func (o *Order) RecipientEmail() string {
	if o.Email != "" {
		return o.Email
	}
	if o.Customer != nil {
		return o.Customer.Email
	}
	return ""
}

// CustomerName returns "first last" trimmed, or "" if the order has no name
func (o *Order) CustomerName() string {
	if o.Customer == nil {
		return ""
	}
	return strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
}

type ordersResponse struct {
	Orders []Order `json:"orders"`
}

type orderResponse struct {
	Order *Order `json:"order"`
}

type errorResponse struct {
	Errors any `json:"errors"`
}
