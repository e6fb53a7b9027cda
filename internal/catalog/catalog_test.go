package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/db"
	"github.com/xenking/kart-checkout/internal/catalog"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

func TestParse_Embedded(t *testing.T) {
	c, err := catalog.Parse(db.Catalog)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Products)
	assert.NotEmpty(t, c.Coupons)
	assert.NotEmpty(t, c.ShippingMethods)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "malformed", doc: `{"products": [`},
		{name: "product without variants", doc: `{"products": [{"name": "A", "slug": "a"}]}`},
		{name: "negative price", doc: `{"products": [{"name": "A", "slug": "a", "variants": [{"sku": "A1", "price": "-1"}]}]}`},
		{name: "unknown discount type", doc: `{"coupons": [{"code": "X", "discount_type": "bogo", "value": "1"}]}`},
		{name: "percent above 100", doc: `{"coupons": [{"code": "X", "discount_type": "percent", "value": "101"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestLoad_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New(1)
	ledger := stock.NewLedger(store.Stock(), 1, nil)
	c, err := catalog.Parse(db.Catalog)
	require.NoError(t, err)

	require.NoError(t, catalog.Load(ctx, store, ledger, c))
	first := store.Counts()
	require.NoError(t, catalog.Load(ctx, store, ledger, c))
	assert.Equal(t, first, store.Counts())

	var withStock int
	for _, p := range c.Products {
		for _, v := range p.Variants {
			if v.Stock > 0 {
				withStock++
			}
		}
	}
	assert.Equal(t, withStock, first.Movements)

	exists, err := store.CouponExists(ctx, "save10")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestParseCouponLine(t *testing.T) {
	tests := []struct {
		line    string
		wantErr bool
		check   func(t *testing.T, c catalog.Coupon)
	}{
		{line: "spring24,percent,15", check: func(t *testing.T, c catalog.Coupon) {
			assert.Equal(t, "SPRING24", c.Code)
			assert.Equal(t, "percent", c.DiscountType)
			assert.Equal(t, "15", c.Value.String())
			assert.Nil(t, c.UsageLimit)
		}},
		{line: "FLAT50, FIXED, 50, 10, 300.00", check: func(t *testing.T, c catalog.Coupon) {
			assert.Equal(t, "fixed", c.DiscountType)
			require.NotNil(t, c.UsageLimit)
			assert.Equal(t, 10, *c.UsageLimit)
			assert.Equal(t, "300", c.MinSubtotal.String())
		}},
		{line: "X,percent", wantErr: true},
		{line: "X,percent,abc", wantErr: true},
		{line: "X,bogo,1", wantErr: true},
		{line: ",percent,1", wantErr: true},
		{line: "X,fixed,1,many", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, err := catalog.ParseCouponLine(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImporter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memory.New(1)
	require.NoError(t, store.UpsertCoupon(ctx, catalog.Coupon{Code: "OLD", DiscountType: "fixed"}))

	paths := []string{
		writeGz(t, dir, "a.gz",
			"# partner A",
			"AAA1,percent,10",
			"SHARED,fixed,20",
			"broken line",
			"",
		),
		writeGz(t, dir, "b.gz",
			"shared,percent,99",
			"BBB1,fixed,5,3",
			"old,percent,5",
		),
	}

	stats, err := catalog.NewImporter(store).Import(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, catalog.ImportStats{
		Files:      2,
		Lines:      6,
		Invalid:    1,
		Duplicates: 1,
		Existing:   1,
		Written:    3,
	}, stats)

	for _, code := range []string{"AAA1", "SHARED", "BBB1"} {
		ok, err := store.CouponExists(ctx, code)
		require.NoError(t, err)
		assert.True(t, ok, code)
	}
}

func TestImporter_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := memory.New(1)
	require.NoError(t, store.UpsertCoupon(ctx, catalog.Coupon{Code: "OLD", DiscountType: "fixed"}))
	path := writeGz(t, t.TempDir(), "a.gz", "OLD,percent,5")

	im := catalog.NewImporter(store)
	im.Overwrite = true
	stats, err := im.Import(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Zero(t, stats.Existing)
}

func TestImporter_MissingFile(t *testing.T) {
	_, err := catalog.NewImporter(memory.New(1)).Import(context.Background(), []string{"/nonexistent.gz"})
	require.Error(t, err)
}
