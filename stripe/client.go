package stripe

import (
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v81"
	stripecustomer "github.com/stripe/stripe-go/v81/customer"
	stripepaymentintent "github.com/stripe/stripe-go/v81/paymentintent"
	stripepaymentmethod "github.com/stripe/stripe-go/v81/paymentmethod"
	stripeprice "github.com/stripe/stripe-go/v81/price"
	stripesubscription "github.com/stripe/stripe-go/v81/subscription"
	stripesubscriptionschedule "github.com/stripe/stripe-go/v81/subscriptionschedule"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
)

// Processor is the surface of the payment processor the donation service
// needs. It is implemented by Client against the real Stripe API and by fakes
// in tests, so the orchestration logic never requires network access.
type Processor interface {
	ValidateWebhookEvent(payload []byte, signatureHeader string) (*stripeapi.Event, error)
	CreatePaymentIntent(params *PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	CreateDonationPrice(name string, unitAmount int64) (*stripeapi.Price, error)
	CreateSubscription(customerID, priceID, paymentMethodID string) (*stripeapi.Subscription, error)
	CreateSubscriptionSchedule(customerID, priceID, paymentMethodID string, iterations int64) (*stripeapi.SubscriptionSchedule, error)
	AttachPaymentMethod(paymentMethodID, customerID string) error
	SetDefaultPaymentMethod(customerID, paymentMethodID string) error
}

// PaymentIntentParams holds the parameters for creating a donation charge.
// Amount is in cents, currency is always USD.
type PaymentIntentParams struct {
	Amount         int64
	ReceiptEmail   string
	OffSession     bool
	Metadata       map[string]string
	IdempotencyKey string
}

// Client wraps the Stripe API client with additional functionality
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new Stripe client with the given configuration
func NewClient(config *Config) *Client {
	stripeapi.Key = config.APIKey

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ValidateWebhookEvent validates and parses a webhook event
func (c *Client) ValidateWebhookEvent(payload []byte, signatureHeader string) (*stripeapi.Event, error) {
	event, err := stripewebhook.ConstructEvent(payload, signatureHeader, c.config.WebhookSecret)
	if err != nil {
		return nil, NewStripeError(CodeWebhookValidation, "webhook signature validation failed", err)
	}
	return &event, nil
}

// CreatePaymentIntent creates a single USD charge with automatic payment
// methods enabled. When OffSession is set the payment method is stored for
// later off-session reuse by the follow-up billing objects.
func (*Client) CreatePaymentIntent(params *PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
	intentParams := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(params.Amount),
		Currency: stripeapi.String(string(stripeapi.CurrencyUSD)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	if params.ReceiptEmail != "" {
		intentParams.ReceiptEmail = stripeapi.String(params.ReceiptEmail)
	}
	if params.OffSession {
		intentParams.SetupFutureUsage = stripeapi.String(string(stripeapi.PaymentIntentSetupFutureUsageOffSession))
	}
	for key, value := range params.Metadata {
		intentParams.AddMetadata(key, value)
	}
	if params.IdempotencyKey != "" {
		intentParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	intent, err := stripepaymentintent.New(intentParams)
	if err != nil {
		return nil, NewStripeError(CodeAPICallFailed, "failed to create payment intent", err)
	}
	return intent, nil
}

// CreateDonationPrice creates a monthly recurring price with an inline
// product, used for both recurring donations and installment plans.
func (*Client) CreateDonationPrice(name string, unitAmount int64) (*stripeapi.Price, error) {
	params := &stripeapi.PriceParams{
		UnitAmount: stripeapi.Int64(unitAmount),
		Currency:   stripeapi.String(string(stripeapi.CurrencyUSD)),
		Recurring: &stripeapi.PriceRecurringParams{
			Interval: stripeapi.String(string(stripeapi.PriceRecurringIntervalMonth)),
		},
		ProductData: &stripeapi.PriceProductDataParams{
			Name: stripeapi.String(name),
		},
	}

	price, err := stripeprice.New(params)
	if err != nil {
		return nil, NewStripeError(CodeAPICallFailed, "failed to create price", err)
	}
	return price, nil
}

// CreateSubscription creates an open-ended monthly subscription for the
// customer, charging the given payment method.
func (*Client) CreateSubscription(customerID, priceID, paymentMethodID string) (*stripeapi.Subscription, error) {
	params := &stripeapi.SubscriptionParams{
		Customer: stripeapi.String(customerID),
		Items: []*stripeapi.SubscriptionItemsParams{
			{Price: stripeapi.String(priceID)},
		},
		PaymentSettings: &stripeapi.SubscriptionPaymentSettingsParams{
			PaymentMethodTypes:       stripeapi.StringSlice([]string{"card"}),
			SaveDefaultPaymentMethod: stripeapi.String("on_subscription"),
		},
	}
	if paymentMethodID != "" {
		params.DefaultPaymentMethod = stripeapi.String(paymentMethodID)
	}
	params.AddExpand("latest_invoice.payment_intent")

	subscription, err := stripesubscription.New(params)
	if err != nil {
		return nil, NewStripeError(CodeAPICallFailed, "failed to create subscription", err)
	}
	return subscription, nil
}

// CreateSubscriptionSchedule creates a bounded billing schedule: a single
// phase starting immediately with a fixed iteration count, canceling itself
// once the last iteration is billed.
func (*Client) CreateSubscriptionSchedule(
	customerID, priceID, paymentMethodID string, iterations int64,
) (*stripeapi.SubscriptionSchedule, error) {
	params := &stripeapi.SubscriptionScheduleParams{
		Customer:     stripeapi.String(customerID),
		StartDateNow: stripeapi.Bool(true),
		EndBehavior:  stripeapi.String(string(stripeapi.SubscriptionScheduleEndBehaviorCancel)),
		Phases: []*stripeapi.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripeapi.SubscriptionSchedulePhaseItemParams{
					{Price: stripeapi.String(priceID)},
				},
				Iterations: stripeapi.Int64(iterations),
			},
		},
	}
	if paymentMethodID != "" {
		params.DefaultSettings = &stripeapi.SubscriptionScheduleDefaultSettingsParams{
			DefaultPaymentMethod: stripeapi.String(paymentMethodID),
		}
	}

	schedule, err := stripesubscriptionschedule.New(params)
	if err != nil {
		return nil, NewStripeError(CodeAPICallFailed, "failed to create subscription schedule", err)
	}
	return schedule, nil
}

// AttachPaymentMethod attaches a payment method to a customer
func (*Client) AttachPaymentMethod(paymentMethodID, customerID string) error {
	params := &stripeapi.PaymentMethodAttachParams{
		Customer: stripeapi.String(customerID),
	}
	if _, err := stripepaymentmethod.Attach(paymentMethodID, params); err != nil {
		return NewStripeError(CodeAPICallFailed, "failed to attach payment method", err)
	}
	return nil
}

// SetDefaultPaymentMethod sets the customer's default payment method for invoices
func (*Client) SetDefaultPaymentMethod(customerID, paymentMethodID string) error {
	params := &stripeapi.CustomerParams{
		InvoiceSettings: &stripeapi.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripeapi.String(paymentMethodID),
		},
	}
	if _, err := stripecustomer.Update(customerID, params); err != nil {
		return NewStripeError(CodeAPICallFailed, "failed to set default payment method", err)
	}
	return nil
}
