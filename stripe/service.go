// Package stripe provides the donation billing orchestration on top of the
// Stripe payment service: building initial charges, initiating subscriptions
// and dispatching webhook events into follow-up billing objects.
package stripe

import (
	"fmt"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v81"
	"go.vocdoni.io/dvote/log"
)

// Donation types accepted by the donation form.
const (
	DonationTypeOneTime = "one-time"
	DonationTypeMonthly = "monthly"
)

// DonationRequest is a donation as submitted by the hosted form. Amount is in
// cents. InstallmentMonths only applies to one-time donations and
// MonthlyEndDate only to monthly ones; zero means no installment plan and no
// end date respectively.
type DonationRequest struct {
	Amount            int64
	DonationType      string
	InstallmentMonths int64
	MonthlyEndDate    int64
	DonorName         string
	DonorEmail        string
}

// SubscriptionRequest drives the direct subscription path, where the caller
// already holds the Stripe identifiers.
type SubscriptionRequest struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	EndAfterMonths  int64
}

// SubscriptionResult holds the billing object created by StartSubscription.
// Exactly one of the two fields is set, depending on whether an end date was
// requested.
type SubscriptionResult struct {
	Subscription *stripeapi.Subscription         `json:"subscription,omitempty"`
	Schedule     *stripeapi.SubscriptionSchedule `json:"schedule,omitempty"`
}

// Service provides the main business logic for donation billing
type Service struct {
	processor Processor
	events    EventStore
	config    *Config
}

// NewService creates a new donation billing service. The processor is
// injected so the decision logic can be exercised against a fake without
// network access.
func NewService(config *Config, processor Processor, events EventStore) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if events == nil {
		events = NewMemoryEventStore(0)
	}

	return &Service{
		processor: processor,
		events:    events,
		config:    config,
	}, nil
}

// CreateDonationIntent decides the initial charge amount for a donation,
// attaches the follow-up intent as metadata and creates the payment intent at
// Stripe. It returns the client secret the form needs to collect the charge.
//
// Monthly donations are charged in full and tagged for subscription setup.
// One-time donations split over N months are charged ceil(total/N) up front
// and tagged for an installment schedule covering the remaining N-1 charges.
// Anything else is a plain one-time charge with no follow-up.
func (s *Service) CreateDonationIntent(req *DonationRequest) (string, error) {
	if req.Amount <= 0 {
		return "", ErrInvalidAmount
	}

	params := &PaymentIntentParams{
		Amount:         req.Amount,
		ReceiptEmail:   req.DonorEmail,
		Metadata:       map[string]string{metaKeyDonationType: req.DonationType},
		IdempotencyKey: uuid.NewString(),
	}

	switch {
	case req.DonationType == DonationTypeMonthly:
		followUp := &FollowUp{
			Kind:           FollowUpSubscription,
			MonthlyAmount:  req.Amount,
			EndAfterMonths: req.MonthlyEndDate,
		}
		for key, value := range followUp.Encode() {
			params.Metadata[key] = value
		}
		params.OffSession = true
	case req.DonationType == DonationTypeOneTime && req.InstallmentMonths > 1:
		followUp := &FollowUp{
			Kind:         FollowUpInstallments,
			TotalAmount:  req.Amount,
			Installments: req.InstallmentMonths,
		}
		// Only the first installment is collected now, the rest is scheduled
		// by the webhook handler once this charge succeeds.
		params.Amount = followUp.InstallmentAmount()
		for key, value := range followUp.Encode() {
			params.Metadata[key] = value
		}
		params.OffSession = true
	default:
		// plain one-time donation, full amount, no follow-up metadata
	}

	intent, err := s.processor.CreatePaymentIntent(params)
	if err != nil {
		return "", err
	}

	log.Infow("donation intent created",
		"intentID", intent.ID,
		"amount", params.Amount,
		"donationType", req.DonationType)
	return intent.ClientSecret, nil
}

// StartSubscription attaches the payment method, makes it the customer's
// default and creates either an open-ended subscription or, when
// EndAfterMonths is positive, a bounded schedule with that many iterations.
// The steps are strictly ordered and a failure aborts the sequence without
// rolling back already-applied steps (an attached payment method stays
// attached).
func (s *Service) StartSubscription(req *SubscriptionRequest) (*SubscriptionResult, error) {
	if err := s.processor.AttachPaymentMethod(req.PaymentMethodID, req.CustomerID); err != nil {
		return nil, err
	}
	if err := s.processor.SetDefaultPaymentMethod(req.CustomerID, req.PaymentMethodID); err != nil {
		return nil, err
	}

	if req.EndAfterMonths > 0 {
		schedule, err := s.processor.CreateSubscriptionSchedule(
			req.CustomerID, req.PriceID, req.PaymentMethodID, req.EndAfterMonths)
		if err != nil {
			return nil, err
		}
		log.Infow("subscription schedule created",
			"scheduleID", schedule.ID,
			"customerID", req.CustomerID,
			"iterations", req.EndAfterMonths)
		return &SubscriptionResult{Schedule: schedule}, nil
	}

	subscription, err := s.processor.CreateSubscription(req.CustomerID, req.PriceID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	log.Infow("subscription created",
		"subscriptionID", subscription.ID,
		"customerID", req.CustomerID)
	return &SubscriptionResult{Subscription: subscription}, nil
}
