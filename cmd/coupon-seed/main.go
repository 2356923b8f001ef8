// Command coupon-seed loads pre-issued coupons from gzip-compressed CSV files
// (owner,code,percent,expires) into the coupon ledger. Files are parsed
// concurrently; when an owner appears more than once the last line of the
// last file wins, since every owner holds at most one coupon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		pattern     string
		databaseURL string
		workers     int
	)
	flag.StringVar(&pattern, "files", "data/coupons*.csv.gz", "glob of gzip CSV files to load, in order")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "concurrent database writers")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, pattern, databaseURL, workers); err != nil {
		lg.Fatal("Coupon seed failed", zap.Error(err))
	}
	lg.Info("Coupon seed completed")
}

func run(ctx context.Context, lg *zap.Logger, pattern, databaseURL string, workers int) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "match files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	lg.Info("Parsing coupon files", zap.Strings("files", files))
	results, err := parseFiles(ctx, files, time.Now())
	if err != nil {
		return err
	}
	for i, r := range results {
		lg.Info("Parsed file",
			zap.String("file", files[i]),
			zap.Int("rows", r.rows),
			zap.Int("skipped", len(r.skipped)),
		)
		for _, s := range r.skipped {
			lg.Debug("Skipped row", zap.String("file", files[i]), zap.Int("line", s.line), zap.String("reason", s.reason))
		}
	}

	coupons := merge(results)
	if len(coupons) == 0 {
		lg.Info("No coupons to write")
		return nil
	}

	if err := postgres.Migrate(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Writing coupons", zap.Int("owners", len(coupons)))
	return write(ctx, postgres.NewCouponRepository(pool), coupons, workers)
}

// write replaces each owner's coupon, several owners at a time.
func write(ctx context.Context, repo coupon.Repository, coupons []*coupon.Coupon, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, c := range coupons {
		g.Go(func() error {
			if err := repo.ReplaceForOwner(ctx, c); err != nil {
				return errors.Wrapf(err, "write coupon for %s", c.OwnerUserID)
			}
			return nil
		})
	}
	return g.Wait()
}
