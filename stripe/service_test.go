package stripe

import (
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	stripeapi "github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
)

// fakeProcessor implements Processor in memory, recording every call so the
// tests can assert on ordering and parameters. When webhookSecret is set,
// ValidateWebhookEvent performs real signature verification.
type fakeProcessor struct {
	webhookSecret string

	failCall map[string]bool // call name -> forced failure

	calls         []string
	intents       []*PaymentIntentParams
	prices        []fakePrice
	subscriptions []fakeSubscription
	schedules     []fakeSchedule
	attached      []fakeAttachment
	defaults      []fakeAttachment
}

type fakePrice struct {
	name       string
	unitAmount int64
}

type fakeSubscription struct {
	customerID, priceID, paymentMethodID string
}

type fakeSchedule struct {
	customerID, priceID, paymentMethodID string
	iterations                           int64
}

type fakeAttachment struct {
	customerID, paymentMethodID string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{failCall: map[string]bool{}}
}

func (f *fakeProcessor) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failCall[call] {
		return NewStripeError(CodeAPICallFailed, fmt.Sprintf("forced %s failure", call), nil)
	}
	return nil
}

func (f *fakeProcessor) ValidateWebhookEvent(payload []byte, signatureHeader string) (*stripeapi.Event, error) {
	event, err := stripewebhook.ConstructEvent(payload, signatureHeader, f.webhookSecret)
	if err != nil {
		return nil, NewStripeError(CodeWebhookValidation, "webhook signature validation failed", err)
	}
	return &event, nil
}

func (f *fakeProcessor) CreatePaymentIntent(params *PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
	if err := f.record("create_payment_intent"); err != nil {
		return nil, err
	}
	f.intents = append(f.intents, params)
	return &stripeapi.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", len(f.intents)),
		Amount:       params.Amount,
		ClientSecret: fmt.Sprintf("pi_%d_secret", len(f.intents)),
	}, nil
}

func (f *fakeProcessor) CreateDonationPrice(name string, unitAmount int64) (*stripeapi.Price, error) {
	if err := f.record("create_price"); err != nil {
		return nil, err
	}
	f.prices = append(f.prices, fakePrice{name: name, unitAmount: unitAmount})
	return &stripeapi.Price{ID: fmt.Sprintf("price_%d", len(f.prices)), UnitAmount: unitAmount}, nil
}

func (f *fakeProcessor) CreateSubscription(customerID, priceID, paymentMethodID string) (*stripeapi.Subscription, error) {
	if err := f.record("create_subscription"); err != nil {
		return nil, err
	}
	f.subscriptions = append(f.subscriptions, fakeSubscription{customerID, priceID, paymentMethodID})
	return &stripeapi.Subscription{ID: fmt.Sprintf("sub_%d", len(f.subscriptions))}, nil
}

func (f *fakeProcessor) CreateSubscriptionSchedule(
	customerID, priceID, paymentMethodID string, iterations int64,
) (*stripeapi.SubscriptionSchedule, error) {
	if err := f.record("create_schedule"); err != nil {
		return nil, err
	}
	f.schedules = append(f.schedules, fakeSchedule{customerID, priceID, paymentMethodID, iterations})
	return &stripeapi.SubscriptionSchedule{ID: fmt.Sprintf("sub_sched_%d", len(f.schedules))}, nil
}

func (f *fakeProcessor) AttachPaymentMethod(paymentMethodID, customerID string) error {
	if err := f.record("attach_payment_method"); err != nil {
		return err
	}
	f.attached = append(f.attached, fakeAttachment{customerID, paymentMethodID})
	return nil
}

func (f *fakeProcessor) SetDefaultPaymentMethod(customerID, paymentMethodID string) error {
	if err := f.record("set_default_payment_method"); err != nil {
		return err
	}
	f.defaults = append(f.defaults, fakeAttachment{customerID, paymentMethodID})
	return nil
}

func newTestService(t *testing.T, processor Processor) *Service {
	t.Helper()
	service, err := NewService(&Config{APIKey: "sk_test", WebhookSecret: "whsec_test"}, processor, nil)
	qt.Assert(t, err, qt.IsNil)
	return service
}

func TestCreateDonationIntent(t *testing.T) {
	c := qt.New(t)

	t.Run("InvalidAmount", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		_, err := service.CreateDonationIntent(&DonationRequest{Amount: 0, DonationType: DonationTypeOneTime})
		c.Assert(err, qt.Equals, ErrInvalidAmount)
		_, err = service.CreateDonationIntent(&DonationRequest{Amount: -500, DonationType: DonationTypeMonthly})
		c.Assert(err, qt.Equals, ErrInvalidAmount)
		c.Assert(fake.intents, qt.HasLen, 0)
	})

	t.Run("PlainOneTime", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		secret, err := service.CreateDonationIntent(&DonationRequest{
			Amount:       5000,
			DonationType: DonationTypeOneTime,
			DonorEmail:   "donor@example.com",
		})
		c.Assert(err, qt.IsNil)
		c.Assert(secret, qt.Equals, "pi_1_secret")
		c.Assert(fake.intents, qt.HasLen, 1)

		params := fake.intents[0]
		c.Assert(params.Amount, qt.Equals, int64(5000))
		c.Assert(params.OffSession, qt.IsFalse)
		c.Assert(params.ReceiptEmail, qt.Equals, "donor@example.com")
		c.Assert(params.IdempotencyKey, qt.Not(qt.Equals), "")
		c.Assert(params.Metadata[metaKeyType], qt.Equals, "")
		c.Assert(params.Metadata[metaKeyDonationType], qt.Equals, DonationTypeOneTime)
	})

	t.Run("Monthly", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		_, err := service.CreateDonationIntent(&DonationRequest{
			Amount:         2600,
			DonationType:   DonationTypeMonthly,
			MonthlyEndDate: 12,
		})
		c.Assert(err, qt.IsNil)

		params := fake.intents[0]
		c.Assert(params.Amount, qt.Equals, int64(2600))
		c.Assert(params.OffSession, qt.IsTrue)
		c.Assert(params.Metadata[metaKeyType], qt.Equals, string(FollowUpSubscription))
		c.Assert(params.Metadata[metaKeyMonthlyAmount], qt.Equals, "2600")
		c.Assert(params.Metadata[metaKeyEndAfter], qt.Equals, "12")
		c.Assert(params.Metadata[metaKeySchema], qt.Equals, followUpSchemaVersion)
	})

	t.Run("MonthlyOngoing", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		_, err := service.CreateDonationIntent(&DonationRequest{
			Amount:       1000,
			DonationType: DonationTypeMonthly,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(fake.intents[0].Metadata[metaKeyEndAfter], qt.Equals, endAfterOngoing)
	})

	t.Run("Installments", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		_, err := service.CreateDonationIntent(&DonationRequest{
			Amount:            5000,
			DonationType:      DonationTypeOneTime,
			InstallmentMonths: 5,
		})
		c.Assert(err, qt.IsNil)

		params := fake.intents[0]
		c.Assert(params.Amount, qt.Equals, int64(1000))
		c.Assert(params.OffSession, qt.IsTrue)
		c.Assert(params.Metadata[metaKeyType], qt.Equals, string(FollowUpInstallments))
		c.Assert(params.Metadata[metaKeyTotalAmount], qt.Equals, "5000")
		c.Assert(params.Metadata[metaKeyInstallments], qt.Equals, "5")
		c.Assert(params.Metadata[metaKeyInstallment], qt.Equals, "1000")
	})

	t.Run("InstallmentsRoundUp", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		// 5000 over 3 months: first charge is ceil(5000/3)=1667, the final
		// cent of overshoot is accepted rounding drift.
		_, err := service.CreateDonationIntent(&DonationRequest{
			Amount:            5000,
			DonationType:      DonationTypeOneTime,
			InstallmentMonths: 3,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(fake.intents[0].Amount, qt.Equals, int64(1667))
		c.Assert(fake.intents[0].Metadata[metaKeyInstallment], qt.Equals, "1667")
	})

	t.Run("SingleInstallmentIsPlain", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		_, err := service.CreateDonationIntent(&DonationRequest{
			Amount:            5000,
			DonationType:      DonationTypeOneTime,
			InstallmentMonths: 1,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(fake.intents[0].Amount, qt.Equals, int64(5000))
		c.Assert(fake.intents[0].Metadata[metaKeyType], qt.Equals, "")
	})

	t.Run("ProcessorFailure", func(t *testing.T) {
		fake := newFakeProcessor()
		fake.failCall["create_payment_intent"] = true
		service := newTestService(t, fake)

		_, err := service.CreateDonationIntent(&DonationRequest{
			Amount:       1000,
			DonationType: DonationTypeOneTime,
		})
		c.Assert(err, qt.IsNotNil)
	})
}

func TestStartSubscription(t *testing.T) {
	c := qt.New(t)

	t.Run("OpenEnded", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		result, err := service.StartSubscription(&SubscriptionRequest{
			CustomerID:      "cus_1",
			PriceID:         "price_1",
			PaymentMethodID: "pm_1",
		})
		c.Assert(err, qt.IsNil)
		c.Assert(result.Subscription, qt.Not(qt.IsNil))
		c.Assert(result.Schedule, qt.IsNil)

		// attach -> set default -> create, strictly in this order
		c.Assert(fake.calls, qt.DeepEquals, []string{
			"attach_payment_method",
			"set_default_payment_method",
			"create_subscription",
		})
		c.Assert(fake.attached[0], qt.Equals, fakeAttachment{"cus_1", "pm_1"})
		c.Assert(fake.defaults[0], qt.Equals, fakeAttachment{"cus_1", "pm_1"})
		c.Assert(fake.subscriptions[0], qt.Equals, fakeSubscription{"cus_1", "price_1", "pm_1"})
	})

	t.Run("Bounded", func(t *testing.T) {
		fake := newFakeProcessor()
		service := newTestService(t, fake)

		result, err := service.StartSubscription(&SubscriptionRequest{
			CustomerID:      "cus_1",
			PriceID:         "price_1",
			PaymentMethodID: "pm_1",
			EndAfterMonths:  6,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(result.Schedule, qt.Not(qt.IsNil))
		c.Assert(result.Subscription, qt.IsNil)
		c.Assert(fake.schedules[0], qt.Equals, fakeSchedule{"cus_1", "price_1", "pm_1", 6})
	})

	t.Run("AbortOnAttachFailure", func(t *testing.T) {
		fake := newFakeProcessor()
		fake.failCall["attach_payment_method"] = true
		service := newTestService(t, fake)

		_, err := service.StartSubscription(&SubscriptionRequest{
			CustomerID:      "cus_1",
			PriceID:         "price_1",
			PaymentMethodID: "pm_1",
		})
		c.Assert(err, qt.IsNotNil)
		// nothing beyond the failed step
		c.Assert(fake.calls, qt.DeepEquals, []string{"attach_payment_method"})
	})

	t.Run("AbortOnDefaultFailure", func(t *testing.T) {
		fake := newFakeProcessor()
		fake.failCall["set_default_payment_method"] = true
		service := newTestService(t, fake)

		_, err := service.StartSubscription(&SubscriptionRequest{
			CustomerID:      "cus_1",
			PriceID:         "price_1",
			PaymentMethodID: "pm_1",
		})
		c.Assert(err, qt.IsNotNil)
		// the attached payment method stays attached, there is no rollback
		c.Assert(fake.attached, qt.HasLen, 1)
		c.Assert(fake.subscriptions, qt.HasLen, 0)
		c.Assert(fake.schedules, qt.HasLen, 0)
	})
}
