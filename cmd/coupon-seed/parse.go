package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

var hundred = decimal.NewFromInt(100)

// row is a parsed coupon with its position, used to pick the last one per
// owner.
type row struct {
	coupon *coupon.Coupon
	file   int
	line   int
}

type skip struct {
	line   int
	reason string
}

type fileResult struct {
	rows    int
	byOwner map[string]row
	skipped []skip
}

// parseFiles parses every file concurrently. Results are indexed like files.
func parseFiles(ctx context.Context, files []string, now time.Time) ([]fileResult, error) {
	results := make([]fileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrapf(err, "open %s", path)
			}
			defer func() { _ = f.Close() }()

			gz, err := pgzip.NewReader(bufio.NewReader(f))
			if err != nil {
				return errors.Wrapf(err, "gzip reader for %s", path)
			}
			defer func() { _ = gz.Close() }()

			res, err := parse(ctx, gz, i, now)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parse reads owner,code,percent,expires records. A header line, blank
// lines and lines starting with # are ignored. Malformed or already expired
// rows are skipped and reported.
func parse(ctx context.Context, r io.Reader, file int, now time.Time) (fileResult, error) {
	res := fileResult{byOwner: make(map[string]row)}

	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.skipped = append(res.skipped, skip{line: perr.Line, reason: perr.Err.Error()})
				continue
			}
			return res, err
		}
		if isHeader(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)

		c, reason := parseRecord(rec, now)
		if reason != "" {
			res.skipped = append(res.skipped, skip{line: line, reason: reason})
			continue
		}
		res.rows++
		res.byOwner[c.OwnerUserID] = row{coupon: c, file: file, line: line}
	}
}

func isHeader(rec []string) bool {
	return len(rec) > 2 &&
		strings.EqualFold(strings.TrimSpace(rec[0]), "owner") &&
		strings.EqualFold(strings.TrimSpace(rec[2]), "percent")
}

func parseRecord(rec []string, now time.Time) (*coupon.Coupon, string) {
	if len(rec) != 4 {
		return nil, "expected 4 fields"
	}
	owner := strings.TrimSpace(rec[0])
	code := strings.ToUpper(strings.TrimSpace(rec[1]))
	switch {
	case owner == "":
		return nil, "owner is empty"
	case code == "":
		return nil, "code is empty"
	}

	pct, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
	if err != nil || !pct.IsPositive() || pct.GreaterThan(hundred) {
		return nil, "percent must be in (0, 100]"
	}

	expires, err := parseExpiry(strings.TrimSpace(rec[3]))
	if err != nil {
		return nil, "expires must be RFC 3339 or YYYY-MM-DD"
	}
	if !expires.After(now) {
		return nil, "already expired"
	}

	return &coupon.Coupon{
		Code:               code,
		OwnerUserID:        owner,
		DiscountPercentage: pct,
		ExpiresAt:          expires,
		Active:             true,
	}, ""
}

// parseExpiry accepts a timestamp or a date; a date stays valid through the
// end of that day (UTC).
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(24 * time.Hour), nil
}

// merge keeps the last row per owner across all files, ordered by owner.
func merge(results []fileResult) []*coupon.Coupon {
	last := make(map[string]row)
	for _, res := range results {
		for owner, r := range res.byOwner {
			prev, ok := last[owner]
			if !ok || r.file > prev.file || (r.file == prev.file && r.line > prev.line) {
				last[owner] = r
			}
		}
	}

	out := make([]*coupon.Coupon, 0, len(last))
	for _, r := range last {
		out = append(out, r.coupon)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerUserID < out[j].OwnerUserID })
	return out
}
