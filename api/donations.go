package api

import (
	"encoding/json"
	"io"
	"net/http"

	"go.vocdoni.io/dvote/log"

	"github.com/commonsfund/donations-backend/api/apicommon"
	"github.com/commonsfund/donations-backend/errors"
	"github.com/commonsfund/donations-backend/stripe"
)

// MaxBodyBytes caps the webhook request body, Stripe events are small
const MaxBodyBytes = int64(65536)

// DonationHandlers contains the donation service and handles HTTP requests
type DonationHandlers struct {
	service *stripe.Service
}

// NewDonationHandlers creates new donation HTTP handlers
func NewDonationHandlers(service *stripe.Service) *DonationHandlers {
	return &DonationHandlers{
		service: service,
	}
}

// CreateDonationIntent handles POST /donations/intent. It validates the
// donation request and returns the client secret of the created payment
// intent, or 400 on a non-positive amount and 500 on a processor failure.
func (h *DonationHandlers) CreateDonationIntent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		errors.ErrStripeError.With("donation service not available").Write(w)
		return
	}

	request := &apicommon.DonationIntentRequest{}
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		errors.ErrMalformedBody.Write(w)
		return
	}

	clientSecret, err := h.service.CreateDonationIntent(&stripe.DonationRequest{
		Amount:            request.Amount,
		DonationType:      request.DonationType,
		InstallmentMonths: request.InstallmentMonths,
		MonthlyEndDate:    request.MonthlyEndDate,
		DonorName:         request.DonorName,
		DonorEmail:        request.DonorEmail,
	})
	if err != nil {
		if err == stripe.ErrInvalidAmount {
			errors.ErrInvalidAmount.Write(w)
			return
		}
		log.Errorf("failed to create payment intent: %v", err)
		errors.ErrStripeError.Write(w)
		return
	}

	apicommon.HTTPWriteJSON(w, &apicommon.DonationIntentResponse{
		ClientSecret: clientSecret,
	})
}

// CreateSubscription handles POST /donations/subscription, the alternate
// entry point driven with explicit Stripe identifiers. Depending on the
// requested end date it returns the created schedule or subscription.
func (h *DonationHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		errors.ErrStripeError.With("donation service not available").Write(w)
		return
	}

	request := &apicommon.SubscriptionRequest{}
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		errors.ErrMalformedBody.Write(w)
		return
	}

	result, err := h.service.StartSubscription(&stripe.SubscriptionRequest{
		CustomerID:      request.CustomerID,
		PriceID:         request.PriceID,
		PaymentMethodID: request.PaymentMethodID,
		EndAfterMonths:  request.EndAfterMonths,
	})
	if err != nil {
		log.Errorf("failed to create subscription: %v", err)
		errors.ErrStripeError.Write(w)
		return
	}

	apicommon.HTTPWriteJSON(w, result)
}

// HandleWebhook handles POST /donations/webhook. The raw body and the
// Stripe-Signature header are handed to the service, which verifies the
// signature before any side effect. Signature failures map to 400 so Stripe
// does not keep redelivering forged events, handler failures map to 500 so
// genuine events are retried.
func (h *DonationHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		log.Errorf("stripe webhook: donation service not available")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	// Read and validate the request body
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Errorf("stripe webhook: error reading request body: %s", err.Error())
		errors.ErrMalformedBody.Write(w)
		return
	}

	// Get signature header
	signatureHeader := r.Header.Get("Stripe-Signature")
	if signatureHeader == "" {
		log.Errorf("stripe webhook: missing Stripe-Signature header")
		errors.ErrInvalidSignature.With("missing Stripe-Signature header").Write(w)
		return
	}

	// Process the webhook event
	if err := h.service.ProcessWebhookEvent(payload, signatureHeader); err != nil {
		log.Errorf("stripe webhook: failed to process event: %v", err)

		// Only a signature failure is the caller's fault. Anything that goes
		// wrong after the signature verified (undecodable metadata, Stripe
		// API failures) is a handler failure: 500, so Stripe redelivers.
		if stripeErr, ok := err.(*stripe.StripeError); ok && stripeErr.Code == stripe.CodeWebhookValidation {
			errors.ErrInvalidSignature.Write(w)
			return
		}
		errors.ErrStripeWebhookError.Write(w)
		return
	}

	apicommon.HTTPWriteJSON(w, &apicommon.WebhookResponse{Received: true})
}
