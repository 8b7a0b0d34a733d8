package textnorm

import "strings"

// RefundReason names the refund phrase found in a bank payment purpose.
type RefundReason string

const (
	ReasonNone                      RefundReason = ""
	ReasonComplaintGoodsRefund      RefundReason = "reklamirana_roba_povrat_sredstava"
	ReasonGoodsComplaintRefund      RefundReason = "reklamacija_robe_povrat_sredstava"
	ReasonPurchasedGoodsReturn      RefundReason = "povrat_kupljene_robe_povrat_sredstava"
	ReasonGoodsReturnInvoiceStorno  RefundReason = "povrat_robe_storno_racuna"
	ReasonGoodsReturnStorno         RefundReason = "povrat_robe_storno"
	ReasonInvoiceStorno             RefundReason = "storno_racuna"
	ReasonGoodsReturn               RefundReason = "povrat_robe"
)

// RefundPhraseMaxDistance is the edit budget when searching for a refund
// phrase inside a payment purpose.
const RefundPhraseMaxDistance = 3

type refundPhrase struct {
	phrase string
	reason RefundReason
}

// refundPhrases are checked in order. Longer, more specific phrases come
// before the general ones they contain.
func refundPhrases() []refundPhrase {
	return []refundPhrase{
		{"reklamirana roba povrat sredstava", ReasonComplaintGoodsRefund},
		{"reklamacija robe povrat sredstava", ReasonGoodsComplaintRefund},
		{"povrat kupljene robe povrat sredstava", ReasonPurchasedGoodsReturn},
		{"povrat robe storno racuna", ReasonGoodsReturnInvoiceStorno},
		{"povrat robe storno", ReasonGoodsReturnStorno},
		{"storno racuna", ReasonInvoiceStorno},
		{"povrat robe", ReasonGoodsReturn},
	}
}

// ClassifyRefundReason returns the first refund phrase fuzzily contained in
// purpose, or ReasonNone.
func ClassifyRefundReason(purpose string) RefundReason {
	text := NormalizeLoose(purpose)
	if text == "" {
		return ReasonNone
	}
	for _, rp := range refundPhrases() {
		if FuzzyContains(text, rp.phrase, RefundPhraseMaxDistance) {
			return rp.reason
		}
	}
	return ReasonNone
}

// Lifecycle is the coarse state of a shipping order derived from its
// free-text status.
type Lifecycle string

const (
	LifecycleOther      Lifecycle = "other"
	LifecycleCancelled  Lifecycle = "cancelled"
	LifecycleInProgress Lifecycle = "in_progress"
	LifecycleReturned   Lifecycle = "returned"
)

// ClassifyStatus maps a provider status string to a Lifecycle.
func ClassifyStatus(status string) Lifecycle {
	strict := NormalizeStrict(status)
	switch {
	case strict == "":
		return LifecycleOther
	case strings.Contains(strict, "otkazan"):
		return LifecycleCancelled
	case strings.Contains(strict, "u obradi"):
		return LifecycleInProgress
	case strings.HasPrefix(NormalizeLoose(status), "vrac"):
		return LifecycleReturned
	default:
		return LifecycleOther
	}
}
