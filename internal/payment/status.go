package payment

// Status is the canonical payment status. The set of variants is closed:
// NotPaid, PaidConfirmed, AwaitingManualConfirm, Pending and Passthrough.
type Status interface {
	isStatus()
	String() string
}

// Gateway names reported by Pending.
const (
	GatewayStripe   = "stripe"
	GatewayParcelow = "parcelow"
	GatewayGeneric  = "generic"
)

type NotPaid struct{}

type PaidConfirmed struct {
	Method string
}

// AwaitingManualConfirm means the lead was sent to a manual channel and staff
// has not confirmed receipt yet.
type AwaitingManualConfirm struct {
	Channel string
}

type Pending struct {
	Gateway string
}

// Passthrough carries a raw status the engine does not recognise. It needs
// manual review.
type Passthrough struct {
	Raw string
}

func (NotPaid) isStatus()               {}
func (PaidConfirmed) isStatus()         {}
func (AwaitingManualConfirm) isStatus() {}
func (Pending) isStatus()               {}
func (Passthrough) isStatus()           {}

func (NotPaid) String() string                 { return "not_paid" }
func (s PaidConfirmed) String() string         { return "paid_confirmed(" + s.Method + ")" }
func (s AwaitingManualConfirm) String() string { return "awaiting_manual_confirm(" + s.Channel + ")" }
func (s Pending) String() string               { return "pending(" + s.Gateway + ")" }
func (s Passthrough) String() string           { return "passthrough(" + s.Raw + ")" }

// Derive maps a payment row to its canonical status. A nil payment is NotPaid.
func Derive(p *Payment) Status {
	if p == nil {
		return NotPaid{}
	}
	md := p.Metadata

	switch p.Status {
	case RawCompleted:
		return PaidConfirmed{Method: completedMethod(md)}
	case RawZelleConfirmed:
		return PaidConfirmed{Method: MethodZelle}
	case RawRedirectedToZelle:
		if md.Flag(KeyZelleConfirmed) || md.Flag(KeyZellePaid) {
			return PaidConfirmed{Method: MethodZelle}
		}
		return AwaitingManualConfirm{Channel: MethodZelle}
	case RawRedirectedToInfinitePay:
		if md.Flag(KeyInfinitePayConfirmed) || md.Flag(KeyInfinitePayPaid) {
			return PaidConfirmed{Method: MethodInfinitePay}
		}
		return AwaitingManualConfirm{Channel: MethodInfinitePay}
	case RawPending:
		switch {
		case md.String(KeyCheckoutURL) != "" || md.String(KeyStripeSessionID) != "":
			return Pending{Gateway: GatewayStripe}
		case md.String(KeyParcelowCheckoutURL) != "":
			return Pending{Gateway: GatewayParcelow}
		default:
			return Pending{Gateway: GatewayGeneric}
		}
	default:
		return Passthrough{Raw: string(p.Status)}
	}
}

func completedMethod(md Metadata) string {
	if m := md.String(KeyPaymentMethod); m != "" {
		return m
	}
	if m := md.String(KeyRequestedPaymentMethod); m != "" {
		return m
	}
	if md.String(KeyParcelowOrderID) != "" {
		return MethodParcelow
	}
	return MethodCard
}

// IsConfirmedPaid reports whether p counts as paid. Every consumer that needs
// a paid/unpaid answer must use this.
func IsConfirmedPaid(p *Payment) bool {
	_, ok := Derive(p).(PaidConfirmed)
	return ok
}

// View is the JSON shape of a canonical status.
type View struct {
	State       string `json:"state"`
	Paid        bool   `json:"paid"`
	Method      string `json:"method,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Gateway     string `json:"gateway,omitempty"`
	Raw         string `json:"raw,omitempty"`
	NeedsReview bool   `json:"needsReview,omitempty"`
}

func Describe(s Status) View {
	switch v := s.(type) {
	case PaidConfirmed:
		return View{State: "paid_confirmed", Paid: true, Method: v.Method}
	case AwaitingManualConfirm:
		return View{State: "awaiting_manual_confirm", Channel: v.Channel}
	case Pending:
		return View{State: "pending", Gateway: v.Gateway}
	case Passthrough:
		return View{State: "passthrough", Raw: v.Raw, NeedsReview: true}
	default:
		return View{State: "not_paid"}
	}
}
