// Package apicommon holds the request and response types of the donations
// API together with small HTTP helpers shared by the handlers.
package apicommon

// DonationIntentRequest is the body of POST /donations/intent, produced by
// the donation form. Amount is in cents, already converted client side.
// InstallmentMonths only applies to one-time donations, MonthlyEndDate only
// to monthly ones; zero means no installments and no end date respectively.
type DonationIntentRequest struct {
	Amount            int64  `json:"amount"`
	DonationType      string `json:"donationType"`
	InstallmentMonths int64  `json:"installmentMonths"`
	MonthlyEndDate    int64  `json:"monthlyEndDate"`
	DonorName         string `json:"donorName,omitempty"`
	DonorEmail        string `json:"donorEmail,omitempty"`
}

// DonationIntentResponse carries the client secret the form needs to confirm
// the charge with Stripe.
type DonationIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// SubscriptionRequest is the body of POST /donations/subscription, the
// directly-driven path where the caller already holds Stripe identifiers.
type SubscriptionRequest struct {
	CustomerID      string `json:"customerId"`
	PriceID         string `json:"priceId"`
	PaymentMethodID string `json:"paymentMethodId"`
	EndAfterMonths  int64  `json:"endAfterMonths"`
}

// WebhookResponse acknowledges a processed webhook event.
type WebhookResponse struct {
	Received bool `json:"received"`
}
