package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"dropaccess/internal/billing"
	"dropaccess/internal/config"
	"dropaccess/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// memStore is an in-memory stand-in for every repository the services use.
// It keeps the conflict semantics of the SQL implementations.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	subs     map[string]*model.Subscription // by billing subscription ID
	payments map[string]*model.PaymentTransaction
	failures []*model.WebhookFailure
	writes   int

	// errs makes the named method fail.
	errs map[string]error
}

func newMemStore(users ...*model.User) *memStore {
	s := &memStore{
		users:    map[string]*model.User{},
		subs:     map[string]*model.Subscription{},
		payments: map[string]*model.PaymentTransaction{},
		errs:     map[string]error{},
	}
	for _, u := range users {
		if u.SubscriptionStatus == "" {
			u.SubscriptionStatus = model.StatusFree
			u.SubscriptionTier = model.TierFree
		}
		s.users[u.UserID] = u
	}
	return s
}

func (s *memStore) user(id string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *memStore) sub(billingID string) *model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[billingID]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["GetUserByID"]; err != nil {
		return nil, err
	}
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetUserByBillingCustomerID(_ context.Context, customerID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.BillingCustomerID != nil && *u.BillingCustomerID == customerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) SetBillingCustomerID(_ context.Context, userID, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["SetBillingCustomerID"]; err != nil {
		return false, err
	}
	u, ok := s.users[userID]
	if !ok || u.HasBillingAccount() {
		return false, nil
	}
	id := customerID
	u.BillingCustomerID = &id
	s.writes++
	return true, nil
}

func (s *memStore) UpdateBillingProjection(_ context.Context, userID string, p model.BillingProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["UpdateBillingProjection"]; err != nil {
		return err
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.SubscriptionStatus = p.Status
	u.SubscriptionTier = p.Tier
	u.SubscriptionEndsAt = p.EndsAt
	u.IsPaid = p.IsPaid()
	s.writes++
	return nil
}

func (s *memStore) userSubs(userID string) []*model.Subscription {
	var out []*model.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderUpdatedAt.After(out[j].ProviderUpdatedAt) })
	return out
}

func (s *memStore) GetActiveByUserID(_ context.Context, userID string) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.userSubs(userID) {
		if model.GrantsAccess(sub.Status) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetLatestByUserID(_ context.Context, userID string) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs := s.userSubs(userID); len(subs) > 0 {
		cp := *subs[0]
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetByBillingSubscriptionID(_ context.Context, id string) (*model.Subscription, error) {
	return s.sub(id), nil
}

func (s *memStore) InsertIfAbsent(_ context.Context, sub *model.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["InsertIfAbsent"]; err != nil {
		return false, err
	}
	if _, ok := s.subs[sub.BillingSubscriptionID]; ok {
		return false, nil
	}
	sub.ID = uuid.NewString()
	cp := *sub
	s.subs[sub.BillingSubscriptionID] = &cp
	s.writes++
	return true, nil
}

func (s *memStore) Upsert(_ context.Context, sub *model.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Upsert"]; err != nil {
		return false, err
	}
	existing, ok := s.subs[sub.BillingSubscriptionID]
	if !ok {
		sub.ID = uuid.NewString()
		cp := *sub
		s.subs[sub.BillingSubscriptionID] = &cp
		s.writes++
		return true, nil
	}
	if existing.ProviderUpdatedAt.After(sub.ProviderUpdatedAt) ||
		(existing.ProviderUpdatedAt.Equal(sub.ProviderUpdatedAt) && existing.ProviderEventRank > sub.ProviderEventRank) {
		return false, nil
	}
	sub.ID = existing.ID
	if sub.CurrentPeriodStart == nil {
		sub.CurrentPeriodStart = existing.CurrentPeriodStart
	}
	if sub.CurrentPeriodEnd == nil {
		sub.CurrentPeriodEnd = existing.CurrentPeriodEnd
	}
	sub.UserID = existing.UserID
	cp := *sub
	s.subs[sub.BillingSubscriptionID] = &cp
	s.writes++
	return true, nil
}

func (s *memStore) UpdateStatus(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[sub.BillingSubscriptionID]
	if !ok {
		return ErrNoActiveSubscription
	}
	existing.Status = sub.Status
	existing.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.CurrentPeriodEnd != nil {
		existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	s.writes++
	return nil
}

func (s *memStore) Append(_ context.Context, tx *model.PaymentTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Append"]; err != nil {
		return false, err
	}
	if _, ok := s.payments[tx.BillingPaymentID]; ok {
		return false, nil
	}
	tx.ID = uuid.NewString()
	cp := *tx
	s.payments[tx.BillingPaymentID] = &cp
	s.writes++
	return true, nil
}

func (s *memStore) ListByUserID(_ context.Context, userID string, limit int) ([]model.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["ListByUserID"]; err != nil {
		return nil, err
	}
	var out []model.PaymentTransaction
	for _, tx := range s.payments {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BillingPaymentID > out[j].BillingPaymentID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, f *model.WebhookFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Create"]; err != nil {
		return err
	}
	cp := *f
	s.failures = append(s.failures, &cp)
	return nil
}

// fakeProvider implements billing.Provider with overridable behaviour and
// records the calls it receives.
type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	findCustomer       func(email string) (*billing.Customer, error)
	createCustomer     func(billing.CreateCustomerParams) (*billing.Customer, error)
	createSubscription func(billing.CreateSubscriptionParams) (*billing.Subscription, error)
	portal             func(customerID, returnURL string) (string, error)
	cancel             func(id string, atPeriodEnd bool) (*billing.Subscription, error)
	parse              func(payload []byte, signature string) (billing.Event, error)
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) FindCustomerByEmail(_ context.Context, email string) (*billing.Customer, error) {
	p.record("FindCustomerByEmail")
	if p.findCustomer != nil {
		return p.findCustomer(email)
	}
	return nil, nil
}

func (p *fakeProvider) CreateCustomer(_ context.Context, in billing.CreateCustomerParams) (*billing.Customer, error) {
	p.record("CreateCustomer")
	if p.createCustomer != nil {
		return p.createCustomer(in)
	}
	return &billing.Customer{ID: "cus_" + in.UserID, Email: in.Email, UserID: in.UserID}, nil
}

func (p *fakeProvider) CreateSubscription(_ context.Context, in billing.CreateSubscriptionParams) (*billing.Subscription, error) {
	p.record("CreateSubscription")
	if p.createSubscription != nil {
		return p.createSubscription(in)
	}
	return &billing.Subscription{
		ID:          "sub_" + in.UserID,
		CustomerID:  in.CustomerID,
		Status:      model.ProviderStatusIncomplete,
		Plan:        in.Plan,
		PaymentLink: "https://invoice.example/" + in.UserID,
		Currency:    "usd",
		CreatedAt:   testEpoch,
	}, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	p.record("CreatePortalSession")
	if p.portal != nil {
		return p.portal(customerID, returnURL)
	}
	return "https://portal.example/" + customerID, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string, atPeriodEnd bool) (*billing.Subscription, error) {
	p.record("CancelSubscription")
	if p.cancel != nil {
		return p.cancel(id, atPeriodEnd)
	}
	status := model.ProviderStatusCanceled
	if atPeriodEnd {
		status = model.ProviderStatusActive
	}
	return &billing.Subscription{ID: id, Status: status, CancelAtPeriodEnd: atPeriodEnd}, nil
}

func (p *fakeProvider) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	p.record("ParseWebhook")
	if p.parse != nil {
		return p.parse(payload, signature)
	}
	return nil, billing.ErrInvalidSignature
}

// recordingSink captures analytics events.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (r *recordingSink) Capture(_ context.Context, _ string, event string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) captured() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

var testEpoch = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func testCatalog() *PlanCatalog {
	return NewPlanCatalog([]config.Plan{
		{Tier: model.TierIndividual, PriceID: "price_ind", AmountCents: 900},
		{Tier: model.TierBusiness, PriceID: "price_biz", AmountCents: 2900},
	})
}

func newTestBillingService(store *memStore, provider *fakeProvider, sink *recordingSink) BillingService {
	return NewBillingService(store, store, store, provider, testCatalog(), sink, nil, "https://dropaccess.app/settings", zerolog.Nop())
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
