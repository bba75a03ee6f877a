package stripe

import (
	"encoding/json"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v81"
	"go.vocdoni.io/dvote/log"
)

// ProcessWebhookEvent validates an incoming webhook payload against its
// signature and processes the event. Events already recorded in the event
// store are acknowledged without side effects, so a Stripe redelivery does
// not create duplicate billing objects.
func (s *Service) ProcessWebhookEvent(payload []byte, signatureHeader string) error {
	event, err := s.processor.ValidateWebhookEvent(payload, signatureHeader)
	if err != nil {
		return err
	}

	if s.events.EventExists(event.ID) {
		log.Debugf("stripe webhook: event %s already processed, skipping", event.ID)
		return nil
	}

	if err := s.HandleEvent(event); err != nil {
		return err
	}

	// Mark the event as processed only after the follow-up creation
	// succeeded, so a failed handler gets another chance on redelivery.
	if err := s.events.MarkProcessed(event.ID); err != nil {
		log.Warnf("stripe webhook: failed to mark event %s as processed: %v", event.ID, err)
	}

	return nil
}

// HandleEvent routes a verified webhook event to its handler. Only a
// succeeded payment intent triggers follow-up creation; subscription
// lifecycle and invoice events are observed and logged for record keeping.
func (s *Service) HandleEvent(event *stripeapi.Event) error {
	switch event.Type {
	case stripeapi.EventTypePaymentIntentSucceeded:
		return s.handlePaymentIntentSucceeded(event)
	case stripeapi.EventTypeCustomerSubscriptionCreated,
		stripeapi.EventTypeCustomerSubscriptionUpdated,
		stripeapi.EventTypeCustomerSubscriptionDeleted:
		return s.handleSubscriptionLifecycle(event)
	case stripeapi.EventTypeInvoicePaymentSucceeded,
		stripeapi.EventTypeInvoicePaymentFailed:
		return s.handleInvoicePayment(event)
	default:
		log.Debugf("stripe webhook: received unhandled event type %s (id %s)", event.Type, event.ID)
		return nil
	}
}

// handlePaymentIntentSucceeded decodes the follow-up intent smuggled through
// the payment intent metadata and creates the corresponding billing object.
func (s *Service) handlePaymentIntentSucceeded(event *stripeapi.Event) error {
	intent, err := parsePaymentIntentFromEvent(event)
	if err != nil {
		return err
	}

	followUp, err := DecodeFollowUp(intent.Metadata)
	if err != nil {
		log.Warnf("stripe webhook: undecodable follow-up intent on payment %s: %v", intent.ID, err)
		return err
	}

	switch followUp.Kind {
	case FollowUpSubscription:
		return s.setUpRecurringDonation(intent, followUp)
	case FollowUpInstallments:
		return s.scheduleRemainingInstallments(intent, followUp)
	default:
		// Plain one-time donation, nothing more to bill. Receipt and donor
		// record keeping happen outside this service.
		log.Infow("one-time donation received",
			"intentID", intent.ID,
			"dollars", float64(intent.Amount)/100,
			"receiptEmail", intent.ReceiptEmail)
		return nil
	}
}

// setUpRecurringDonation creates the recurring price for the donated amount
// and then either a bounded schedule (donation with an end date) or an
// open-ended subscription, reusing the customer and payment method captured
// on the initial charge. Price creation always precedes the billing object.
func (s *Service) setUpRecurringDonation(intent *stripeapi.PaymentIntent, followUp *FollowUp) error {
	customerID, paymentMethodID, err := billingIdentifiers(intent)
	if err != nil {
		return err
	}

	price, err := s.processor.CreateDonationPrice("Monthly Donation", followUp.MonthlyAmount)
	if err != nil {
		return fmt.Errorf("failed to create price for payment %s: %w", intent.ID, err)
	}

	if followUp.EndAfterMonths > 0 {
		schedule, err := s.processor.CreateSubscriptionSchedule(
			customerID, price.ID, paymentMethodID, followUp.EndAfterMonths)
		if err != nil {
			return fmt.Errorf("failed to create schedule for payment %s: %w", intent.ID, err)
		}
		log.Infow("recurring donation scheduled",
			"intentID", intent.ID,
			"scheduleID", schedule.ID,
			"monthlyAmount", followUp.MonthlyAmount,
			"months", followUp.EndAfterMonths)
		return nil
	}

	subscription, err := s.processor.CreateSubscription(customerID, price.ID, paymentMethodID)
	if err != nil {
		return fmt.Errorf("failed to create subscription for payment %s: %w", intent.ID, err)
	}
	log.Infow("recurring donation started",
		"intentID", intent.ID,
		"subscriptionID", subscription.ID,
		"monthlyAmount", followUp.MonthlyAmount)
	return nil
}

// scheduleRemainingInstallments bills the rest of a split one-time donation.
// The first installment was already collected by the initial charge, so the
// schedule runs for installments-1 iterations at the same per-installment
// amount.
func (s *Service) scheduleRemainingInstallments(intent *stripeapi.PaymentIntent, followUp *FollowUp) error {
	customerID, paymentMethodID, err := billingIdentifiers(intent)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("Installment Payment (%d total)", followUp.Installments)
	price, err := s.processor.CreateDonationPrice(name, followUp.InstallmentAmount())
	if err != nil {
		return fmt.Errorf("failed to create price for payment %s: %w", intent.ID, err)
	}

	schedule, err := s.processor.CreateSubscriptionSchedule(
		customerID, price.ID, paymentMethodID, followUp.Installments-1)
	if err != nil {
		return fmt.Errorf("failed to create schedule for payment %s: %w", intent.ID, err)
	}

	log.Infow("installment plan scheduled",
		"intentID", intent.ID,
		"scheduleID", schedule.ID,
		"installmentAmount", followUp.InstallmentAmount(),
		"remaining", followUp.Installments-1)
	return nil
}

// handleSubscriptionLifecycle observes subscription created/updated/deleted
// events. Donor record keeping hooks would go here, they are external to
// this service.
func (*Service) handleSubscriptionLifecycle(event *stripeapi.Event) error {
	var subscription stripeapi.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return NewStripeError(CodeInvalidEvent, "failed to parse subscription from event", err)
	}
	log.Infow("subscription lifecycle event",
		"type", string(event.Type),
		"subscriptionID", subscription.ID)
	return nil
}

// handleInvoicePayment observes recurring payment outcomes. Receipts and
// dunning notifications are external to this service.
func (*Service) handleInvoicePayment(event *stripeapi.Event) error {
	var invoice stripeapi.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return NewStripeError(CodeInvalidEvent, "failed to parse invoice from event", err)
	}
	if event.Type == stripeapi.EventTypeInvoicePaymentFailed {
		log.Warnw("invoice payment failed", "invoiceID", invoice.ID)
		return nil
	}
	log.Infow("invoice paid", "invoiceID", invoice.ID)
	return nil
}

// parsePaymentIntentFromEvent extracts the payment intent from a webhook event
func parsePaymentIntentFromEvent(event *stripeapi.Event) (*stripeapi.PaymentIntent, error) {
	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, NewStripeError(CodeInvalidEvent, "failed to parse payment intent from event", err)
	}
	return &intent, nil
}

// billingIdentifiers pulls the customer and payment method captured on the
// initial charge, both required to create any follow-up billing object.
func billingIdentifiers(intent *stripeapi.PaymentIntent) (customerID, paymentMethodID string, err error) {
	if intent.Customer == nil || intent.Customer.ID == "" {
		return "", "", NewStripeError(CodeInvalidEvent,
			fmt.Sprintf("payment intent %s has no customer", intent.ID), nil)
	}
	if intent.PaymentMethod == nil || intent.PaymentMethod.ID == "" {
		return "", "", NewStripeError(CodeInvalidEvent,
			fmt.Sprintf("payment intent %s has no payment method", intent.ID), nil)
	}
	return intent.Customer.ID, intent.PaymentMethod.ID, nil
}
