package netsync

import (
	"context"
	"sync"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

type fakeDirectory struct {
	getUser   func(ctx context.Context, id string) (*User, error)
	listUsers func(ctx context.Context, page, perPage int) ([]User, error)
	pages     []int
}

func (f *fakeDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	return f.getUser(ctx, id)
}

func (f *fakeDirectory) ListUsers(ctx context.Context, page, perPage int) ([]User, error) {
	f.pages = append(f.pages, page)
	return f.listUsers(ctx, page, perPage)
}

type fakePayments struct {
	byID   map[string]*payment.Payment
	synced []string
}

func (f *fakePayments) GetByID(_ context.Context, id string) (*payment.Payment, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (f *fakePayments) MarkSynced(_ context.Context, id string) error {
	f.synced = append(f.synced, id)
	return nil
}

type fakeLeads struct {
	leads   map[string]*lead.Lead
	updates map[string]string
}

func (f *fakeLeads) Get(_ context.Context, id string) (*lead.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return nil, lead.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLeads) UpdateExternalUserID(_ context.Context, id, ext string) error {
	if f.updates == nil {
		f.updates = map[string]string{}
	}
	f.updates[id] = ext
	f.leads[id].ExternalUserID = ext
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	requests []SyncRequest
	keys     []string
	err      error
}

func (f *fakeSink) SyncPayment(_ context.Context, req SyncRequest, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.keys = append(f.keys, key)
	return f.err
}
