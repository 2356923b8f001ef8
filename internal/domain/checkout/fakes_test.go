package checkout

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/events"
)

// --- Mock implementations ---

type fakeProducts struct {
	byID map[string]product.Product
	err  error
}

func (f *fakeProducts) List(context.Context) ([]product.Product, error) { return nil, nil }

func (f *fakeProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := f.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeCoupons struct {
	mu          sync.Mutex
	coupons     map[string]*coupon.Coupon // owner + "/" + code
	deactivated []string
	deactErr    error
	issueErr    error
}

func (f *fakeCoupons) FindByCode(_ context.Context, code, owner string) (*coupon.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[owner+"/"+code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCoupons) Deactivate(_ context.Context, code, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, owner+"/"+code)
	if f.deactErr != nil {
		return f.deactErr
	}
	if c, ok := f.coupons[owner+"/"+code]; ok {
		c.Active = false
	}
	return nil
}

func (f *fakeCoupons) ReplaceForOwner(_ context.Context, c *coupon.Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return f.issueErr
	}
	for k, v := range f.coupons {
		if v.OwnerUserID == c.OwnerUserID {
			delete(f.coupons, k)
		}
	}
	cp := *c
	f.coupons[c.OwnerUserID+"/"+c.Code] = &cp
	return nil
}

func (f *fakeCoupons) GetByOwner(_ context.Context, owner string) (*coupon.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coupons {
		if c.OwnerUserID == owner {
			cp := *c
			return &cp, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (f *fakeCoupons) activeFor(owner string) []coupon.Coupon {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []coupon.Coupon
	for _, c := range f.coupons {
		if c.OwnerUserID == owner && c.Active {
			out = append(out, *c)
		}
	}
	return out
}

type fakeOrders struct {
	mu     sync.Mutex
	byRef  map[string]*order.Order
	getErr error
	// beforeCreate runs inside Create before the uniqueness check.
	beforeCreate func(o *order.Order)
	creates      int
}

func (f *fakeOrders) Create(_ context.Context, o *order.Order) error {
	if f.beforeCreate != nil {
		f.beforeCreate(o)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if _, ok := f.byRef[o.ProviderReference]; ok {
		return order.ErrDuplicateReference
	}
	cp := *o
	f.byRef[o.ProviderReference] = &cp
	return nil
}

func (f *fakeOrders) GetByProviderReference(_ context.Context, ref string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	o, ok := f.byRef[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.byRef {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (f *fakeOrders) ListByOwner(_ context.Context, owner string, _ int) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []order.Order
	for _, o := range f.byRef {
		if o.OwnerUserID == owner {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byRef)
}

type fakePending struct {
	mu        sync.Mutex
	byRef     map[string]*PendingPayment
	createErr error
}

func (f *fakePending) Create(_ context.Context, p *PendingPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byRef[p.Reference]; ok {
		return ErrPendingExists
	}
	cp := *p
	f.byRef[p.Reference] = &cp
	return nil
}

func (f *fakePending) Get(_ context.Context, ref string) (*PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byRef[ref]
	if !ok {
		return nil, ErrPendingNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePending) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byRef, ref)
	return nil
}

type fakeCarts struct {
	mu       sync.Mutex
	cleared  []string
	clearErr error
}

func (f *fakeCarts) Get(context.Context, string) ([]cart.Item, error) { return nil, nil }
func (f *fakeCarts) Save(context.Context, string, []cart.Item) error  { return nil }

func (f *fakeCarts) Clear(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakeCard struct {
	mu        sync.Mutex
	sessions  map[string]*CardSession
	requests  []CardSessionRequest
	discounts []decimal.Decimal
	seq       atomic.Int64
	createErr error
	getErr    error
	// block makes RetrieveSession wait for context cancellation.
	block bool
}

func (f *fakeCard) CreateDiscount(_ context.Context, pct decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discounts = append(f.discounts, pct)
	return "disc_" + pct.String(), nil
}

func (f *fakeCard) CreateSession(_ context.Context, req CardSessionRequest) (*CardSession, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	id := "cs_test_" + strconv.FormatInt(f.seq.Add(1), 10)
	s := &CardSession{ID: id, URL: "https://pay.example/" + id, Metadata: req.Metadata}
	f.sessions[id] = s
	cp := *s
	return &cp, nil
}

func (f *fakeCard) RetrieveSession(ctx context.Context, id string) (*CardSession, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errNoSuchSession
	}
	cp := *s
	return &cp, nil
}

// pay marks the session paid for amount.
func (f *fakeCard) pay(id string, amount pricing.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].Paid = true
	f.sessions[id].AmountTotal = amount
}

type fakeMobile struct {
	mu     sync.Mutex
	status map[string]*MobileVerification
	calls  int
	err    error
}

func (f *fakeMobile) Verify(_ context.Context, ref string) (*MobileVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.status[ref]
	if !ok {
		return &MobileVerification{Status: MobilePending}, nil
	}
	cp := *v
	return &cp, nil
}

func (f *fakeMobile) settle(ref string, amount pricing.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[ref] = &MobileVerification{Status: MobilePaid, Amount: amount, PayerPhone: "0911000000"}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type sentinel string

func (s sentinel) Error() string { return string(s) }

const errNoSuchSession = sentinel("no such session")

// --- Harness ---

type harness struct {
	products  *fakeProducts
	coupons   *fakeCoupons
	orders    *fakeOrders
	pending   *fakePending
	carts     *fakeCarts
	card      *fakeCard
	mobile    *fakeMobile
	published *recordingPublisher

	initiator  *Initiator
	reconciler *Reconciler
}

var testCatalog = []product.Product{
	{ID: "p50", Name: "Waffle", Price: decimal.RequireFromString("50.00")},
	{ID: "p100", Name: "Creme Brulee", Price: decimal.RequireFromString("100.00")},
	{ID: "p200", Name: "Macaron Box", Price: decimal.RequireFromString("200.00")},
	{ID: "free", Name: "Sample", Price: decimal.Zero},
}

func testConfig() Config {
	return Config{
		Currency:        "usd",
		ClientOrigin:    "https://shop.example/",
		MerchantPhone:   "0911223344",
		RewardThreshold: 20000,
		ProviderTimeout: time.Second,
		StoreTimeout:    time.Second,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		products:  &fakeProducts{byID: product.Index(testCatalog)},
		coupons:   &fakeCoupons{coupons: map[string]*coupon.Coupon{}},
		orders:    &fakeOrders{byRef: map[string]*order.Order{}},
		pending:   &fakePending{byRef: map[string]*PendingPayment{}},
		carts:     &fakeCarts{},
		card:      &fakeCard{sessions: map[string]*CardSession{}},
		mobile:    &fakeMobile{status: map[string]*MobileVerification{}},
		published: &recordingPublisher{},
	}
	deps := Deps{
		Products:   h.products,
		Coupons:    coupon.NewLedger(h.coupons, coupon.DefaultPolicy()),
		Orders:     h.orders,
		Pending:    h.pending,
		Carts:      h.carts,
		Card:       h.card,
		Mobile:     h.mobile,
		Events:     h.published,
		Signer:     NewSigner([]byte("snapshot-secret")),
		References: NewReferenceGenerator("TEL", 1024),
	}
	var err error
	h.initiator, err = NewInitiator(deps, cfg)
	require.NoError(t, err)
	h.reconciler, err = NewReconciler(deps, cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) addCoupon(owner, code string, pct int64, expires time.Time, active bool) {
	h.coupons.coupons[owner+"/"+code] = &coupon.Coupon{
		Code:               code,
		OwnerUserID:        owner,
		DiscountPercentage: decimal.NewFromInt(pct),
		ExpiresAt:          expires,
		Active:             active,
	}
}

func line(id string, qty int) cart.Item {
	for _, p := range testCatalog {
		if p.ID == id {
			return cart.Item{ProductID: id, Name: p.Name, Price: p.Price, Quantity: qty}
		}
	}
	return cart.Item{ProductID: id, Name: "Unknown " + id, Price: decimal.NewFromInt(1), Quantity: qty}
}
