package processor

import webhookdomain "github.com/smallbiznis/payflow/internal/webhook/domain"

// EventKind is the closed set of provider event types the processor handles.
type EventKind int

const (
	KindUnsupported EventKind = iota
	KindPaymentSucceeded
	KindPaymentFailed
	KindRefundSucceeded
)

func ParseEventKind(eventType string) EventKind {
	switch eventType {
	case webhookdomain.EventTypePaymentSucceeded:
		return KindPaymentSucceeded
	case webhookdomain.EventTypePaymentFailed:
		return KindPaymentFailed
	case webhookdomain.EventTypeRefundSucceeded:
		return KindRefundSucceeded
	default:
		return KindUnsupported
	}
}

func (k EventKind) String() string {
	switch k {
	case KindPaymentSucceeded:
		return webhookdomain.EventTypePaymentSucceeded
	case KindPaymentFailed:
		return webhookdomain.EventTypePaymentFailed
	case KindRefundSucceeded:
		return webhookdomain.EventTypeRefundSucceeded
	default:
		return "unsupported"
	}
}
