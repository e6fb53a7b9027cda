package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupon *Coupon
	err    error
	code   string
}

func (m *mockCouponRepo) FindCouponByCode(_ context.Context, code string) (*Coupon, error) {
	m.code = code
	return m.coupon, m.err
}

func (m *mockCouponRepo) GetCoupon(_ context.Context, _ int64) (*Coupon, error) {
	return m.coupon, m.err
}

func (m *mockCouponRepo) IncrementCouponUsage(_ context.Context, _ int64) (bool, error) {
	return true, nil
}

func (m *mockCouponRepo) ReleaseCouponUsage(_ context.Context, _ int64) error {
	return nil
}

func intPtr(v int) *int { return &v }

func TestCoupon_Check(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	base := func() Coupon {
		return Coupon{
			Code:         "SAVE10",
			DiscountType: DiscountPercent,
			Value:        decimal.NewFromInt(10),
			Active:       true,
			MinSubtotal:  decimal.RequireFromString("100.00"),
		}
	}

	tests := []struct {
		name     string
		mutate   func(c *Coupon)
		subtotal string
		wantErr  error
	}{
		{name: "valid", mutate: func(*Coupon) {}, subtotal: "250.00"},
		{name: "inactive", mutate: func(c *Coupon) { c.Active = false }, subtotal: "250.00", wantErr: ErrInactive},
		{name: "not started", mutate: func(c *Coupon) { c.StartsAt = &future }, subtotal: "250.00", wantErr: ErrNotStarted},
		{name: "expired", mutate: func(c *Coupon) { c.EndsAt = &past }, subtotal: "250.00", wantErr: ErrExpired},
		{name: "inside window", mutate: func(c *Coupon) { c.StartsAt = &past; c.EndsAt = &future }, subtotal: "250.00"},
		{name: "usage exhausted", mutate: func(c *Coupon) { c.UsageLimit = intPtr(3); c.UsedCount = 3 }, subtotal: "250.00", wantErr: ErrUsageLimitReached},
		{name: "usage remaining", mutate: func(c *Coupon) { c.UsageLimit = intPtr(3); c.UsedCount = 2 }, subtotal: "250.00"},
		{name: "below minimum", mutate: func(*Coupon) {}, subtotal: "99.99", wantErr: ErrBelowMinimum},
		{name: "minimum compares quantized", mutate: func(*Coupon) {}, subtotal: "99.996"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Check(decimal.RequireFromString(tt.subtotal), fixedNow)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, c.IsValid(decimal.RequireFromString(tt.subtotal), fixedNow))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCoupon_Apply(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		coupon   Coupon
		subtotal string
		want     string
	}{
		{
			name:     "percent of subtotal",
			coupon:   Coupon{DiscountType: DiscountPercent, Value: decimal.NewFromInt(10), Active: true},
			subtotal: "250.00",
			want:     "25.00",
		},
		{
			name:     "percent quantized",
			coupon:   Coupon{DiscountType: DiscountPercent, Value: decimal.RequireFromString("12.5"), Active: true},
			subtotal: "33.33",
			want:     "4.17",
		},
		{
			name:     "fixed",
			coupon:   Coupon{DiscountType: DiscountFixed, Value: decimal.RequireFromString("30"), Active: true},
			subtotal: "250.00",
			want:     "30.00",
		},
		{
			name:     "fixed capped at subtotal",
			coupon:   Coupon{DiscountType: DiscountFixed, Value: decimal.RequireFromString("300"), Active: true},
			subtotal: "250.00",
			want:     "250.00",
		},
		{
			name:     "percent over hundred capped",
			coupon:   Coupon{DiscountType: DiscountPercent, Value: decimal.NewFromInt(150), Active: true},
			subtotal: "80.00",
			want:     "80.00",
		},
		{
			name:     "invalid yields zero",
			coupon:   Coupon{DiscountType: DiscountFixed, Value: decimal.NewFromInt(10), Active: false},
			subtotal: "250.00",
			want:     "0",
		},
		{
			name:     "unknown type yields zero",
			coupon:   Coupon{DiscountType: "bogo", Value: decimal.NewFromInt(10), Active: true},
			subtotal: "250.00",
			want:     "0",
		},
		{
			name:     "negative value floored",
			coupon:   Coupon{DiscountType: DiscountFixed, Value: decimal.NewFromInt(-5), Active: true},
			subtotal: "250.00",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.Apply(decimal.RequireFromString(tt.subtotal), now)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestLookup(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	valid := &Coupon{ID: 1, Code: "SAVE10", DiscountType: DiscountPercent, Value: decimal.NewFromInt(10), Active: true}

	t.Run("valid coupon normalises code", func(t *testing.T) {
		repo := &mockCouponRepo{coupon: valid}
		c, ok, err := Lookup(context.Background(), repo, "  save10 ", decimal.NewFromInt(100), now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, valid, c)
		assert.Equal(t, "SAVE10", repo.code)
	})

	t.Run("unknown code is soft failure", func(t *testing.T) {
		repo := &mockCouponRepo{err: ErrInvalidCoupon}
		c, ok, err := Lookup(context.Background(), repo, "NOPE", decimal.NewFromInt(100), now)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, c)
	})

	t.Run("invalid coupon is soft failure", func(t *testing.T) {
		inactive := *valid
		inactive.Active = false
		c, ok, err := Lookup(context.Background(), &mockCouponRepo{coupon: &inactive}, "SAVE10", decimal.NewFromInt(100), now)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NotNil(t, c)
	})

	t.Run("empty code", func(t *testing.T) {
		_, ok, err := Lookup(context.Background(), &mockCouponRepo{}, "   ", decimal.NewFromInt(100), now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("storage error propagates", func(t *testing.T) {
		dbErr := errors.New("connection refused")
		_, _, err := Lookup(context.Background(), &mockCouponRepo{err: dbErr}, "SAVE10", decimal.NewFromInt(100), now)
		require.ErrorIs(t, err, dbErr)
	})
}

func TestCoupon_ApplyRedeemed(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := Coupon{
		DiscountType: DiscountPercent,
		Value:        decimal.NewFromInt(10),
		Active:       true,
		UsageLimit:   intPtr(1),
		UsedCount:    1,
	}

	assert.True(t, c.Apply(decimal.NewFromInt(200), now).IsZero())
	assert.True(t, c.ApplyRedeemed(decimal.NewFromInt(200), now).Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, *c.UsageLimit, "receiver must not be modified")
}
