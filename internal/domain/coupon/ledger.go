package coupon

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Policy configures reward coupon issuance.
type Policy struct {
	// Percentage is the discount granted by a reward coupon (0-100].
	Percentage decimal.Decimal
	// Validity is how long a reward coupon stays redeemable.
	Validity time.Duration
	// CodePrefix is prepended to the random part of reward codes.
	CodePrefix string
	// CodeLength is the number of random characters in a reward code.
	CodeLength int
}

// DefaultPolicy grants 10% for 30 days with GIFTXXXXXX codes.
func DefaultPolicy() Policy {
	return Policy{
		Percentage: decimal.NewFromInt(10),
		Validity:   30 * 24 * time.Hour,
		CodePrefix: "GIFT",
		CodeLength: 6,
	}
}

// Ledger is the authority over coupon state transitions. Coupons move from
// active to inactive exactly once and are never reactivated.
type Ledger struct {
	repo   Repository
	policy Policy
	now    func() time.Time
}

// NewLedger creates a Ledger over repo using the given issuance policy.
func NewLedger(repo Repository, policy Policy) *Ledger {
	if policy.CodeLength <= 0 {
		policy.CodeLength = DefaultPolicy().CodeLength
	}
	return &Ledger{repo: repo, policy: policy, now: time.Now}
}

// FindActive returns the coupon identified by (code, owner) only when it is
// active and unexpired. Unknown, inactive and expired coupons all yield
// (nil, nil): callers proceed without a discount.
func (l *Ledger) FindActive(ctx context.Context, code, owner string) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" || owner == "" {
		return nil, nil
	}

	c, err := l.repo.FindByCode(ctx, code, owner)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find coupon")
	}
	if !c.ValidAt(l.now()) {
		return nil, nil
	}
	return c, nil
}

// Deactivate retires the coupon. Deactivating an unknown or already inactive
// coupon is a no-op.
func (l *Ledger) Deactivate(ctx context.Context, code, owner string) error {
	code = strings.TrimSpace(code)
	if code == "" || owner == "" {
		return nil
	}
	if err := l.repo.Deactivate(ctx, code, owner); err != nil {
		return errors.Wrapf(err, "deactivate coupon %s", code)
	}
	return nil
}

// IssueReward replaces whatever coupon the owner holds with a fresh reward
// coupon, keeping at most one coupon per user.
func (l *Ledger) IssueReward(ctx context.Context, owner string) (*Coupon, error) {
	if owner == "" {
		return nil, errors.New("issue reward: owner required")
	}

	suffix, err := randomCode(l.policy.CodeLength)
	if err != nil {
		return nil, errors.Wrap(err, "generate coupon code")
	}

	c := &Coupon{
		Code:               l.policy.CodePrefix + suffix,
		OwnerUserID:        owner,
		DiscountPercentage: l.policy.Percentage,
		ExpiresAt:          l.now().Add(l.policy.Validity).UTC(),
		Active:             true,
	}
	if err := l.repo.ReplaceForOwner(ctx, c); err != nil {
		return nil, errors.Wrap(err, "store reward coupon")
	}
	return c, nil
}

// Current returns the owner's coupon if it is still redeemable.
func (l *Ledger) Current(ctx context.Context, owner string) (*Coupon, error) {
	c, err := l.repo.GetByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	if !c.ValidAt(l.now()) {
		return nil, nil
	}
	return c, nil
}

func randomCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		i, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[i.Int64()])
	}
	return sb.String(), nil
}
