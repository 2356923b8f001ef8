// Package telebirr verifies mobile-money payments by reference.
package telebirr

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const maxBody = 64 << 10

// Client queries the provider's payment status endpoint:
//
//	GET {base}/payments/{reference}
//	200 {"status": "paid"|"pending"|"failed", "amount": "225.00", "payerPhone": "0911..."}
type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*checkout.MobileVerification]
}

var _ checkout.MobileMoneyProvider = (*Client)(nil)

// New creates a Client. token is sent as a bearer credential when set.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  httpClient,
		breaker: gobreaker.NewCircuitBreaker[*checkout.MobileVerification](gobreaker.Settings{
			Name:        "telebirr",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, apperr.ErrProviderRejected)
			},
		}),
	}
}

// Verify returns the settlement state of reference. References the provider
// does not know yet are reported as pending.
func (c *Client) Verify(ctx context.Context, reference string) (*checkout.MobileVerification, error) {
	v, err := c.breaker.Execute(func() (*checkout.MobileVerification, error) {
		return c.fetch(ctx, reference)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(apperr.ErrProviderFault, err.Error())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "verify %s", reference)
	}
	return v, nil
}

func (c *Client) fetch(ctx context.Context, reference string) (*checkout.MobileVerification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/payments/"+url.PathEscape(reference), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(apperr.ErrProviderFault, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrap(apperr.ErrProviderFault, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return &checkout.MobileVerification{Status: checkout.MobilePending}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.ErrProviderRateLimited
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(apperr.ErrProviderFault, "status %d", resp.StatusCode)
	default:
		return nil, errors.Wrapf(apperr.ErrProviderRejected, "status %d", resp.StatusCode)
	}

	v, err := decodeVerification(body)
	if err != nil {
		return nil, errors.Wrap(apperr.ErrProviderFault, "malformed response: "+err.Error())
	}
	return v, nil
}

func decodeVerification(body []byte) (*checkout.MobileVerification, error) {
	var (
		v         checkout.MobileVerification
		hasStatus bool
	)
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			if err != nil {
				return err
			}
			hasStatus = true
			switch st := checkout.MobileStatus(strings.ToLower(s)); st {
			case checkout.MobilePaid, checkout.MobilePending, checkout.MobileFailed:
				v.Status = st
			default:
				return errors.Errorf("unknown status %q", s)
			}
			return nil
		case "amount":
			a, err := decodeAmount(d)
			v.Amount = a
			return err
		case "payerPhone":
			s, err := d.Str()
			v.PayerPhone = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if !hasStatus {
		return nil, errors.New("status missing")
	}
	return &v, nil
}

// decodeAmount accepts a major-unit amount as a JSON string or number.
func decodeAmount(d *jx.Decoder) (pricing.Amount, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return 0, err
		}
		raw = n.String()
	default:
		return 0, errors.New("amount must be a string or number")
	}
	dec, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, errors.Wrap(err, "parse amount")
	}
	return pricing.FromDecimal(dec), nil
}
