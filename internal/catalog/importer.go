package catalog

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	defaultFPR    = 0.001
	progressEvery = 100_000
)

// CouponStore is the destination of an import.
type CouponStore interface {
	// ListCouponCodes calls fn with the normalized code of every stored coupon.
	ListCouponCodes(ctx context.Context, fn func(code string) error) error
	// CouponExists reports whether a coupon with code is stored.
	CouponExists(ctx context.Context, code string) (bool, error)
	UpsertCoupon(ctx context.Context, c Coupon) error
}

// ImportStats summarizes an import run.
type ImportStats struct {
	Files      int
	Lines      int
	Invalid    int
	Duplicates int
	Existing   int
	Written    int
}

// Importer loads gzip-compressed coupon lists. Each non-empty line that is
// not a '#' comment reads
//
//	CODE,TYPE,VALUE[,USAGE_LIMIT[,MIN_SUBTOTAL]]
//
// where TYPE is percent or fixed. A code repeated across files keeps its
// first definition in file order. Codes already stored are skipped unless
// Overwrite is set.
type Importer struct {
	store     CouponStore
	Overwrite bool
	// FalsePositiveRate of the filter over stored codes.
	FalsePositiveRate float64
}

// NewImporter creates an Importer writing to store.
func NewImporter(store CouponStore) *Importer {
	return &Importer{store: store, FalsePositiveRate: defaultFPR}
}

type fileCoupons struct {
	coupons []Coupon
	lines   int
	invalid int
}

// Import parses paths concurrently and writes the resulting coupons.
func (im *Importer) Import(ctx context.Context, paths []string) (ImportStats, error) {
	lg := zctx.From(ctx)
	stats := ImportStats{Files: len(paths)}

	results := make([]fileCoupons, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			res, err := readCouponFile(gctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("Parsed coupon file",
				zap.String("path", path),
				zap.Int("coupons", len(res.coupons)),
				zap.Int("invalid", res.invalid),
			)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	total := 0
	for _, r := range results {
		total += len(r.coupons)
		stats.Lines += r.lines
		stats.Invalid += r.invalid
	}

	var stored *bloom.BloomFilter
	if !im.Overwrite {
		var err error
		if stored, err = im.storedFilter(ctx, total); err != nil {
			return stats, err
		}
	}

	seen := make(map[string]struct{}, total)
	for _, r := range results {
		for _, c := range r.coupons {
			if _, dup := seen[c.Code]; dup {
				stats.Duplicates++
				continue
			}
			seen[c.Code] = struct{}{}

			if stored != nil && stored.TestString(c.Code) {
				exists, err := im.store.CouponExists(ctx, c.Code)
				if err != nil {
					return stats, errors.Wrapf(err, "check coupon %s", c.Code)
				}
				if exists {
					stats.Existing++
					continue
				}
			}

			if err := im.store.UpsertCoupon(ctx, c); err != nil {
				return stats, errors.Wrapf(err, "upsert coupon %s", c.Code)
			}
			stats.Written++
			if stats.Written%progressEvery == 0 {
				lg.Info("Import progress", zap.Int("written", stats.Written), zap.Int("total", total))
			}
		}
	}

	lg.Info("Coupon import finished",
		zap.Int("written", stats.Written),
		zap.Int("existing", stats.Existing),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
	)
	return stats, nil
}

// storedFilter builds a bloom filter over the codes already stored so that
// only probable collisions cost a lookup.
func (im *Importer) storedFilter(ctx context.Context, hint int) (*bloom.BloomFilter, error) {
	fpr := im.FalsePositiveRate
	if fpr <= 0 || fpr >= 1 {
		fpr = defaultFPR
	}
	filter := bloom.NewWithEstimates(uint(max(hint, 1)), fpr)
	if err := im.store.ListCouponCodes(ctx, func(code string) error {
		filter.AddString(coupon.NormalizeCode(code))
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "list stored coupons")
	}
	return filter, nil
}

// readCouponFile streams one gzip file.
func readCouponFile(ctx context.Context, path string) (fileCoupons, error) {
	var res fileCoupons

	f, err := os.Open(path)
	if err != nil {
		return res, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return res, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	lg := zctx.From(ctx)
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		res.lines++

		c, err := ParseCouponLine(line)
		if err != nil {
			res.invalid++
			lg.Debug("Skipping coupon line", zap.String("path", path), zap.Int("line", res.lines), zap.Error(err))
			continue
		}
		res.coupons = append(res.coupons, c)
	}
	if err := scanner.Err(); err != nil {
		return res, errors.Wrap(err, "scan")
	}
	return res, nil
}

// ParseCouponLine parses one CODE,TYPE,VALUE[,USAGE_LIMIT[,MIN_SUBTOTAL]]
// record. The code is normalized.
func ParseCouponLine(line string) (Coupon, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 || len(fields) > 5 {
		return Coupon{}, errors.Errorf("expected 3 to 5 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	c := Coupon{
		Code:         coupon.NormalizeCode(fields[0]),
		DiscountType: strings.ToLower(fields[1]),
	}
	value, err := decimal.NewFromString(fields[2])
	if err != nil {
		return Coupon{}, errors.Wrap(err, "value")
	}
	c.Value = value

	if len(fields) > 3 && fields[3] != "" {
		limit, err := strconv.Atoi(fields[3])
		if err != nil {
			return Coupon{}, errors.Wrap(err, "usage limit")
		}
		c.UsageLimit = &limit
	}
	if len(fields) > 4 && fields[4] != "" {
		if c.MinSubtotal, err = decimal.NewFromString(fields[4]); err != nil {
			return Coupon{}, errors.Wrap(err, "min subtotal")
		}
	}

	if err := c.Validate(); err != nil {
		return Coupon{}, err
	}
	return c, nil
}
