package cache

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/kart-checkout/internal/domain/owner"
)

type failingInvalidator struct {
	calls int
}

func (f *failingInvalidator) Invalidate(context.Context, ...string) error {
	f.calls++
	return errors.New("redis down")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "cart:user:5", CartKey(owner.User(5)))
	assert.Equal(t, "cart:guest:g1", CartKey(owner.Guest("g1")))
	assert.Equal(t, "variant:12", VariantKey(12))
	assert.Equal(t, "coupon:SAVE10", CouponKey("SAVE10"))
	assert.Equal(t, "order:3", OrderKey(3))
}

func TestInvalidateQuietly(t *testing.T) {
	ctx := context.Background()

	f := &failingInvalidator{}
	InvalidateQuietly(ctx, f, "a", "b")
	assert.Equal(t, 1, f.calls)

	InvalidateQuietly(ctx, f)
	assert.Equal(t, 1, f.calls, "no keys means no call")

	r := &Recorder{}
	InvalidateQuietly(ctx, r, "cart:user:1", "variant:2")
	assert.Equal(t, []string{"cart:user:1", "variant:2"}, r.Keys())
	assert.True(t, r.Has("variant:2"))
	assert.False(t, r.Has("variant:3"))
}
