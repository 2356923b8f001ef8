package coupon

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo keys coupons by owner then code.
type memRepo struct {
	mu       sync.Mutex
	byOwner  map[string]map[string]*Coupon
	findErr  error
	deactErr error
	calls    int
}

func newMemRepo(coupons ...*Coupon) *memRepo {
	r := &memRepo{byOwner: make(map[string]map[string]*Coupon)}
	for _, c := range coupons {
		r.put(c)
	}
	return r
}

func (r *memRepo) put(c *Coupon) {
	if r.byOwner[c.OwnerUserID] == nil {
		r.byOwner[c.OwnerUserID] = make(map[string]*Coupon)
	}
	cp := *c
	r.byOwner[c.OwnerUserID][c.Code] = &cp
}

func (r *memRepo) FindByCode(_ context.Context, code, owner string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.byOwner[owner][code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) Deactivate(_ context.Context, code, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.deactErr != nil {
		return r.deactErr
	}
	if c, ok := r.byOwner[owner][code]; ok {
		c.Active = false
	}
	return nil
}

func (r *memRepo) ReplaceForOwner(_ context.Context, c *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byOwner, c.OwnerUserID)
	r.put(c)
	return nil
}

func (r *memRepo) GetByOwner(_ context.Context, owner string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byOwner[owner] {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (r *memRepo) activeCount(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.byOwner[owner] {
		if c.Active {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestLedger(repo Repository) *Ledger {
	l := NewLedger(repo, DefaultPolicy())
	l.now = func() time.Time { return fixedNow }
	return l
}

func TestLedger_FindActive(t *testing.T) {
	valid := &Coupon{Code: "SAVE10", OwnerUserID: "u1", DiscountPercentage: decimal.NewFromInt(10), ExpiresAt: fixedNow.Add(time.Hour), Active: true}
	expired := &Coupon{Code: "OLD", OwnerUserID: "u1", DiscountPercentage: decimal.NewFromInt(10), ExpiresAt: fixedNow.Add(-24 * time.Hour), Active: true}
	inactive := &Coupon{Code: "USED", OwnerUserID: "u1", DiscountPercentage: decimal.NewFromInt(10), ExpiresAt: fixedNow.Add(time.Hour), Active: false}
	expiringNow := &Coupon{Code: "EDGE", OwnerUserID: "u1", DiscountPercentage: decimal.NewFromInt(10), ExpiresAt: fixedNow, Active: true}

	repo := newMemRepo(valid, expired, inactive, expiringNow)
	l := newTestLedger(repo)
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		owner    string
		wantCode string
	}{
		{name: "active unexpired", code: "SAVE10", owner: "u1", wantCode: "SAVE10"},
		{name: "surrounding whitespace ignored", code: "  SAVE10 ", owner: "u1", wantCode: "SAVE10"},
		{name: "expired yesterday treated as none", code: "OLD", owner: "u1"},
		{name: "inactive treated as none", code: "USED", owner: "u1"},
		{name: "expiration equal to now treated as none", code: "EDGE", owner: "u1"},
		{name: "unknown code", code: "NOPE", owner: "u1"},
		{name: "other owner cannot redeem", code: "SAVE10", owner: "u2"},
		{name: "empty code", code: "", owner: "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := l.FindActive(ctx, tt.code, tt.owner)
			require.NoError(t, err)
			if tt.wantCode == "" {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Equal(t, tt.wantCode, c.Code)
		})
	}
}

func TestLedger_FindActive_RepoError(t *testing.T) {
	repo := newMemRepo()
	repo.findErr = errors.New("connection reset")
	l := newTestLedger(repo)

	_, err := l.FindActive(context.Background(), "SAVE10", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find coupon")
}

func TestLedger_Deactivate_Idempotent(t *testing.T) {
	repo := newMemRepo(&Coupon{Code: "SAVE10", OwnerUserID: "u1", ExpiresAt: fixedNow.Add(time.Hour), Active: true})
	l := newTestLedger(repo)
	ctx := context.Background()

	require.NoError(t, l.Deactivate(ctx, "SAVE10", "u1"))
	require.NoError(t, l.Deactivate(ctx, "SAVE10", "u1"))
	require.NoError(t, l.Deactivate(ctx, "MISSING", "u1"))
	require.NoError(t, l.Deactivate(ctx, "", "u1"))

	assert.Equal(t, 0, repo.activeCount("u1"))
	assert.Equal(t, 3, repo.calls, "empty code must not reach the repository")

	c, err := l.FindActive(ctx, "SAVE10", "u1")
	require.NoError(t, err)
	assert.Nil(t, c, "deactivated coupon must never be redeemable again")
}

func TestLedger_Deactivate_Error(t *testing.T) {
	repo := newMemRepo()
	repo.deactErr = errors.New("db down")
	l := newTestLedger(repo)

	err := l.Deactivate(context.Background(), "SAVE10", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deactivate coupon SAVE10")
}

func TestLedger_IssueReward(t *testing.T) {
	repo := newMemRepo(
		&Coupon{Code: "OLD1", OwnerUserID: "u1", ExpiresAt: fixedNow.Add(time.Hour), Active: true},
		&Coupon{Code: "KEEP", OwnerUserID: "u2", ExpiresAt: fixedNow.Add(time.Hour), Active: true},
	)
	l := newTestLedger(repo)
	ctx := context.Background()

	c, err := l.IssueReward(ctx, "u1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(c.Code, "GIFT"))
	assert.Len(t, c.Code, len("GIFT")+6)
	assert.Equal(t, strings.ToUpper(c.Code), c.Code)
	assert.True(t, decimal.NewFromInt(10).Equal(c.DiscountPercentage))
	assert.Equal(t, fixedNow.Add(30*24*time.Hour), c.ExpiresAt)
	assert.True(t, c.Active)

	_, err = repo.FindByCode(ctx, "OLD1", "u1")
	require.ErrorIs(t, err, ErrNotFound, "previous coupon must be replaced")
	assert.Equal(t, 1, repo.activeCount("u1"))
	assert.Equal(t, 1, repo.activeCount("u2"), "other owners untouched")

	// Issuing again still leaves exactly one coupon.
	_, err = l.IssueReward(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.activeCount("u1"))
}

func TestLedger_IssueReward_RequiresOwner(t *testing.T) {
	l := newTestLedger(newMemRepo())
	_, err := l.IssueReward(context.Background(), "")
	require.Error(t, err)
}

func TestLedger_Current(t *testing.T) {
	repo := newMemRepo(&Coupon{Code: "GIFTAAAAAA", OwnerUserID: "u1", ExpiresAt: fixedNow.Add(time.Hour), Active: true})
	l := newTestLedger(repo)
	ctx := context.Background()

	c, err := l.Current(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "GIFTAAAAAA", c.Code)

	c, err = l.Current(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, c)
}
