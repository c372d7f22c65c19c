package models

import "time"

// Transaction statuses
const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
	TransactionCancelled = "cancelled"
)

// Payment and booking statuses
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"

	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
)

// PaymentDetails is what is kept of a payment. Only the last four card
// digits are ever stored.
type PaymentDetails struct {
	CardLast4     string  `json:"card_last4,omitempty" bson:"card_last4,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	Amount        float64 `json:"amount,omitempty" bson:"amount,omitempty"`
}

type BookingDetails struct {
	StartDate string `json:"start_date,omitempty" bson:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty" bson:"end_date,omitempty"`
	Notes     string `json:"notes,omitempty" bson:"notes,omitempty"`
}

type Transaction struct {
	ID             string          `json:"id" gorm:"primaryKey;size:24"`
	PropertyID     string          `json:"property_id" gorm:"index;size:24"`
	BuyerID        string          `json:"buyer_id" gorm:"index;size:24"`
	SellerID       string          `json:"seller_id" gorm:"index;size:24"`
	Type           string          `json:"type"`
	Amount         float64         `json:"amount"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status" gorm:"index"`
	PaymentDetails *PaymentDetails `json:"payment_details,omitempty" gorm:"serializer:json"`
	PaymentDate    *time.Time      `json:"payment_date,omitempty"`
	BookingStatus  *string         `json:"booking_status"`
	BookingDetails *BookingDetails `json:"booking_details,omitempty" gorm:"serializer:json"`
	BookingDate    *time.Time      `json:"booking_date,omitempty"`
	ContractPath   *string         `json:"contract_path"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index"`

	// Property is filled in by readers that join the referenced listing.
	Property *Property `json:"property,omitempty" gorm:"-"`
}

// IsParty reports whether the user is the buyer or the seller.
func (t *Transaction) IsParty(userID string) bool {
	return t.BuyerID == userID || t.SellerID == userID
}

// PaymentCompleted reports whether the payment went through.
func (t *Transaction) PaymentCompleted() bool {
	return t.PaymentStatus == PaymentCompleted
}

// NeedsContract is true once paid but before any contract was recorded.
func (t *Transaction) NeedsContract() bool {
	return t.PaymentCompleted() && (t.ContractPath == nil || *t.ContractPath == "")
}
