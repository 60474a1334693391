// Package dispatch routes parcelow deliveries between this system and the
// partner backend that shares the gateway account.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/audit"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/clients"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/middleware"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/webhook"
)

type Route int

const (
	RouteLocal Route = iota
	RoutePartner
)

func (r Route) String() string {
	if r == RoutePartner {
		return "partner"
	}
	return "local"
}

type LocalHandler interface {
	Handle(ctx context.Context, raw []byte, header http.Header, meta webhook.RequestMeta) webhook.Outcome
}

type OrderLookup interface {
	FindByGatewayRef(ctx context.Context, key, value string) (*payment.Payment, error)
}

// Partner is the other backend's webhook endpoint. A nil Client disables
// forwarding and every delivery is handled locally.
type Partner struct {
	Client *clients.Client
	Path   string
}

type Dispatcher struct {
	local   LocalHandler
	orders  OrderLookup
	partner Partner
	prefix  string
	audit   audit.Repository
	logger  logrus.FieldLogger
}

func NewDispatcher(local LocalHandler, orders OrderLookup, partner Partner, prefix string, auditRepo audit.Repository, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		local:   local,
		orders:  orders,
		partner: partner,
		prefix:  prefix,
		audit:   auditRepo,
		logger:  logger,
	}
}

// Route decides who owns a delivery. Known order ids and local references
// stay here; everything else belongs to the partner. Unparseable bodies stay
// local so the ingestor can reject them.
func (d *Dispatcher) Route(ctx context.Context, raw []byte) Route {
	if d.partner.Client == nil {
		return RouteLocal
	}
	pe, err := webhook.ParseParcelow(raw)
	if err != nil {
		return RouteLocal
	}

	_, err = d.orders.FindByGatewayRef(ctx, payment.KeyParcelowOrderID, string(pe.Order.ID))
	switch {
	case err == nil:
		return RouteLocal
	case !errors.Is(err, payment.ErrNotFound):
		// Let the local ingestor fail and the gateway retry.
		d.logger.WithError(err).Warn("order lookup failed, handling delivery locally")
		return RouteLocal
	}

	if webhook.HasLocalPrefix(pe.Order.Reference, d.prefix) {
		return RouteLocal
	}
	return RoutePartner
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := webhook.ReadBody(w, r)
	if err != nil {
		middleware.WriteError(w, r, http.StatusRequestEntityTooLarge, webhook.ResultInvalid, "body too large or unreadable")
		return
	}

	if d.Route(r.Context(), raw) == RouteLocal {
		d.local.Handle(r.Context(), raw, r.Header, webhook.MetaFromRequest(r)).Write(w)
		return
	}
	d.forward(w, r, raw)
}

// forward relays the untouched body and headers, then the partner's status,
// headers and body, so the gateway's retry policy sees the owner's answer.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, raw []byte) {
	meta := webhook.MetaFromRequest(r)
	rec := &audit.Record{
		Provider:   webhook.ProviderParcelow,
		RequestID:  meta.RequestID,
		RemoteAddr: meta.RemoteAddr,
		UserAgent:  meta.UserAgent,
	}
	if pe, err := webhook.ParseParcelow(raw); err == nil {
		rec.EventID = pe.DedupID()
		rec.EventType = pe.Event
	}
	log := d.logger.WithFields(logrus.Fields{"event_id": rec.EventID, "request_id": meta.RequestID})

	resp, err := d.partner.Client.Do(r.Context(), http.MethodPost, d.partner.Path, r.URL.RawQuery, bytes.NewReader(raw), r.Header)
	if err != nil {
		rec.Outcome = audit.OutcomeForwardFailed
		rec.Detail = err.Error()
		d.record(r.Context(), log, rec)
		log.WithError(err).Error("forward to partner webhook failed")
		middleware.WriteError(w, r, http.StatusBadGateway, audit.OutcomeForwardFailed, "partner webhook unreachable")
		return
	}
	defer resp.Body.Close()

	rec.Outcome = audit.OutcomeForwarded
	rec.Detail = fmt.Sprintf("partner responded %d", resp.StatusCode)
	d.record(r.Context(), log, rec)
	log.WithField("status", resp.StatusCode).Info("webhook forwarded to partner")

	clients.CopyUpstreamResponse(w, resp)
}

func (d *Dispatcher) record(ctx context.Context, log logrus.FieldLogger, rec *audit.Record) {
	if err := d.audit.Record(ctx, rec); err != nil {
		log.WithError(err).Error("forward audit record not written")
	}
}
