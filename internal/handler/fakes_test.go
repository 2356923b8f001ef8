package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

type fakeProducts struct {
	items []product.Product
	err   error
}

func (f *fakeProducts) List(context.Context) ([]product.Product, error) {
	return f.items, f.err
}

func (f *fakeProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.items {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

func (f *fakeProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := product.Index(f.items)
	var out []product.Product
	for _, id := range ids {
		if p, ok := idx[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeCarts struct {
	mu    sync.Mutex
	carts map[string][]cart.Item
	err   error
}

func (f *fakeCarts) Get(_ context.Context, userID string) ([]cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if items, ok := f.carts[userID]; ok {
		return items, nil
	}
	return []cart.Item{}, nil
}

func (f *fakeCarts) Save(_ context.Context, userID string, items []cart.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.carts[userID] = items
	return nil
}

func (f *fakeCarts) Clear(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, userID)
	return f.err
}

type fakeCouponRepo struct {
	byOwner map[string]*coupon.Coupon
}

func (f *fakeCouponRepo) FindByCode(_ context.Context, code, owner string) (*coupon.Coupon, error) {
	if c, ok := f.byOwner[owner]; ok && c.Code == code {
		return c, nil
	}
	return nil, coupon.ErrNotFound
}

func (f *fakeCouponRepo) Deactivate(context.Context, string, string) error { return nil }

func (f *fakeCouponRepo) ReplaceForOwner(_ context.Context, c *coupon.Coupon) error {
	f.byOwner[c.OwnerUserID] = c
	return nil
}

func (f *fakeCouponRepo) GetByOwner(_ context.Context, owner string) (*coupon.Coupon, error) {
	if c, ok := f.byOwner[owner]; ok {
		return c, nil
	}
	return nil, coupon.ErrNotFound
}

type fakeOrders struct {
	orders    []order.Order
	lastLimit int
	err       error
}

func (f *fakeOrders) Create(context.Context, *order.Order) error { return nil }

func (f *fakeOrders) GetByProviderReference(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (f *fakeOrders) GetByID(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (f *fakeOrders) ListByOwner(_ context.Context, owner string, limit int) ([]order.Order, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []order.Order
	for _, o := range f.orders {
		if o.OwnerUserID == owner {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeInitiator struct {
	gotOwner  string
	gotItems  []cart.Item
	gotCoupon string
	gotPhone  string
	card      *checkout.CardStart
	mobile    *checkout.MobileStart
	err       error
}

func (f *fakeInitiator) StartCard(_ context.Context, owner string, items []cart.Item, code string) (*checkout.CardStart, error) {
	f.gotOwner, f.gotItems, f.gotCoupon = owner, items, code
	return f.card, f.err
}

func (f *fakeInitiator) StartMobile(_ context.Context, owner string, items []cart.Item, code, phone string) (*checkout.MobileStart, error) {
	f.gotOwner, f.gotItems, f.gotCoupon, f.gotPhone = owner, items, code, phone
	return f.mobile, f.err
}

type fakeReconciler struct {
	gotOwner        string
	gotSession      string
	gotConfirmation checkout.Confirmation
	webhookSession  string
	webhookRef      string
	result          *checkout.Result
	err             error
}

func (f *fakeReconciler) ConfirmCard(_ context.Context, owner, sessionID string) (*checkout.Result, error) {
	f.gotOwner, f.gotSession = owner, sessionID
	return f.result, f.err
}

func (f *fakeReconciler) ConfirmMobile(_ context.Context, owner string, c checkout.Confirmation) (*checkout.Result, error) {
	f.gotOwner, f.gotConfirmation = owner, c
	return f.result, f.err
}

func (f *fakeReconciler) ReconcileCardSession(_ context.Context, sessionID string) (*checkout.Result, error) {
	f.webhookSession = sessionID
	return f.result, f.err
}

func (f *fakeReconciler) ReconcileMobileReference(_ context.Context, reference string) (*checkout.Result, error) {
	f.webhookRef = reference
	return f.result, f.err
}

type fakeWebhook struct {
	sessionID string
	err       error
	gotSig    string
}

func (f *fakeWebhook) ParseWebhook(_ []byte, signature string) (string, error) {
	f.gotSig = signature
	return f.sessionID, f.err
}

type fakeAPIKeys struct {
	keys map[string]*auth.APIKeyInfo
	err  error
}

func (f *fakeAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k, ok := f.keys[hash]; ok {
		return k, nil
	}
	return nil, auth.ErrKeyNotFound
}

type settlement struct {
	reference string
	amount    pricing.Amount
	payer     string
	failed    bool
}

type fakeSettler struct {
	calls []settlement
}

func (f *fakeSettler) Settle(reference string, amount pricing.Amount, payer string) {
	f.calls = append(f.calls, settlement{reference: reference, amount: amount, payer: payer})
}

func (f *fakeSettler) Fail(reference string) {
	f.calls = append(f.calls, settlement{reference: reference, failed: true})
}

var testPepper = []byte("pepper")

type harness struct {
	h          *Handler
	products   *fakeProducts
	carts      *fakeCarts
	coupons    *fakeCouponRepo
	orders     *fakeOrders
	initiator  *fakeInitiator
	reconciler *fakeReconciler
	webhook    *fakeWebhook
	apikeys    *fakeAPIKeys
	settler    *fakeSettler
	tokens     *auth.Tokens
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	cfg.APIKeyPepper = testPepper

	hs := &harness{
		products: &fakeProducts{items: []product.Product{
			{ID: "1", Name: "Waffle", Category: "Waffle", Price: decimal.RequireFromString("6.50"), ImageRef: "waffle.jpg"},
			{ID: "2", Name: "Brulee", Category: "Creme Brulee", Price: decimal.RequireFromString("7")},
		}},
		carts:      &fakeCarts{carts: make(map[string][]cart.Item)},
		coupons:    &fakeCouponRepo{byOwner: make(map[string]*coupon.Coupon)},
		orders:     &fakeOrders{},
		initiator:  &fakeInitiator{},
		reconciler: &fakeReconciler{},
		webhook:    &fakeWebhook{},
		apikeys:    &fakeAPIKeys{keys: make(map[string]*auth.APIKeyInfo)},
		settler:    &fakeSettler{},
		tokens:     auth.NewTokens([]byte("jwt-secret"), time.Hour),
	}
	hs.h = NewHandler(cfg, Deps{
		Products:    hs.products,
		Carts:       hs.carts,
		Coupons:     coupon.NewLedger(hs.coupons, coupon.DefaultPolicy()),
		Orders:      hs.orders,
		Initiator:   hs.initiator,
		Reconciler:  hs.reconciler,
		CardWebhook: hs.webhook,
		APIKeys:     hs.apikeys,
		Tokens:      hs.tokens,
		Settler:     hs.settler,
	})
	return hs
}

func (hs *harness) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := hs.tokens.Issue(userID)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (hs *harness) addAPIKey(id, key string, scopes ...string) {
	hash := auth.HashKey(testPepper, key)
	hs.apikeys.keys[hash] = &auth.APIKeyInfo{ID: id, KeyHash: hash, Name: id, Scopes: scopes}
}
