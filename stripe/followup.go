package stripe

import (
	"fmt"
	"strconv"
)

// FollowUpKind tags the follow-up billing object to be created once the
// initial charge for a donation has succeeded.
type FollowUpKind string

const (
	// FollowUpNone means the donation is a plain one-time charge.
	FollowUpNone FollowUpKind = ""
	// FollowUpSubscription means a recurring monthly donation must be set up.
	FollowUpSubscription FollowUpKind = "subscription_setup"
	// FollowUpInstallments means the remaining installments of a split
	// one-time donation must be scheduled.
	FollowUpInstallments FollowUpKind = "installment_plan"
)

const (
	// followUpSchemaVersion is stored alongside the follow-up fields so the
	// webhook side can detect incompatible encodings.
	followUpSchemaVersion = "1"
	// endAfterOngoing is the sentinel for a recurring donation with no end date.
	endAfterOngoing = "ongoing"
)

// Metadata keys used to carry the follow-up intent on a PaymentIntent across
// the asynchronous boundary to the webhook handler. The keys are part of the
// wire contract with already-issued payment intents, do not rename them.
const (
	metaKeySchema        = "schema"
	metaKeyType          = "type"
	metaKeyDonationType  = "donation_type"
	metaKeyMonthlyAmount = "monthly_amount"
	metaKeyEndAfter      = "end_after_months"
	metaKeyTotalAmount   = "total_amount"
	metaKeyInstallments  = "installments"
	metaKeyInstallment   = "installment_amount"
)

// FollowUp is the typed representation of the follow-up billing intent
// attached to a donation's initial charge. It is encoded as string metadata
// on the PaymentIntent and decoded again when the processor reports success.
// All amounts are in cents.
type FollowUp struct {
	Kind FollowUpKind

	// Recurring donation fields (Kind == FollowUpSubscription).
	MonthlyAmount  int64
	EndAfterMonths int64 // 0 means ongoing, no end date

	// Installment plan fields (Kind == FollowUpInstallments).
	TotalAmount  int64
	Installments int64
}

// InstallmentAmount returns the per-installment charge, rounding up so the
// total is always covered. The rounding may overshoot the total by at most
// Installments-1 cents, which is accepted rather than corrected.
func (f *FollowUp) InstallmentAmount() int64 {
	if f.Installments <= 0 {
		return 0
	}
	return (f.TotalAmount + f.Installments - 1) / f.Installments
}

// Encode serializes the follow-up intent into PaymentIntent metadata.
// A FollowUpNone intent produces no follow-up keys.
func (f *FollowUp) Encode() map[string]string {
	metadata := map[string]string{}
	switch f.Kind {
	case FollowUpSubscription:
		metadata[metaKeySchema] = followUpSchemaVersion
		metadata[metaKeyType] = string(FollowUpSubscription)
		metadata[metaKeyMonthlyAmount] = strconv.FormatInt(f.MonthlyAmount, 10)
		if f.EndAfterMonths > 0 {
			metadata[metaKeyEndAfter] = strconv.FormatInt(f.EndAfterMonths, 10)
		} else {
			metadata[metaKeyEndAfter] = endAfterOngoing
		}
	case FollowUpInstallments:
		metadata[metaKeySchema] = followUpSchemaVersion
		metadata[metaKeyType] = string(FollowUpInstallments)
		metadata[metaKeyTotalAmount] = strconv.FormatInt(f.TotalAmount, 10)
		metadata[metaKeyInstallments] = strconv.FormatInt(f.Installments, 10)
		metadata[metaKeyInstallment] = strconv.FormatInt(f.InstallmentAmount(), 10)
	case FollowUpNone:
		// plain one-time donation, nothing to carry over
	}
	return metadata
}

// DecodeFollowUp parses the follow-up intent from PaymentIntent metadata.
// Missing type key means a plain one-time donation. Unknown type values or
// malformed numeric fields are rejected as invalid events.
func DecodeFollowUp(metadata map[string]string) (*FollowUp, error) {
	kind := FollowUpKind(metadata[metaKeyType])
	switch kind {
	case FollowUpNone:
		return &FollowUp{Kind: FollowUpNone}, nil
	case FollowUpSubscription:
		monthlyAmount, err := parseMetaAmount(metadata, metaKeyMonthlyAmount)
		if err != nil {
			return nil, err
		}
		endAfterMonths := int64(0)
		if v := metadata[metaKeyEndAfter]; v != "" && v != endAfterOngoing {
			endAfterMonths, err = strconv.ParseInt(v, 10, 64)
			if err != nil || endAfterMonths < 0 {
				return nil, NewStripeError(CodeInvalidEvent,
					fmt.Sprintf("malformed metadata field %s", metaKeyEndAfter), err)
			}
		}
		return &FollowUp{
			Kind:           FollowUpSubscription,
			MonthlyAmount:  monthlyAmount,
			EndAfterMonths: endAfterMonths,
		}, nil
	case FollowUpInstallments:
		totalAmount, err := parseMetaAmount(metadata, metaKeyTotalAmount)
		if err != nil {
			return nil, err
		}
		installments, err := parseMetaAmount(metadata, metaKeyInstallments)
		if err != nil {
			return nil, err
		}
		if installments < 2 {
			return nil, NewStripeError(CodeInvalidEvent,
				fmt.Sprintf("installment plan requires at least 2 installments, got %d", installments), nil)
		}
		return &FollowUp{
			Kind:         FollowUpInstallments,
			TotalAmount:  totalAmount,
			Installments: installments,
		}, nil
	default:
		return nil, NewStripeError(CodeInvalidEvent,
			fmt.Sprintf("unknown follow-up type %q", kind), nil)
	}
}

func parseMetaAmount(metadata map[string]string, key string) (int64, error) {
	v, err := strconv.ParseInt(metadata[key], 10, 64)
	if err != nil || v <= 0 {
		return 0, NewStripeError(CodeInvalidEvent,
			fmt.Sprintf("missing or malformed metadata field %s", key), err)
	}
	return v, nil
}
