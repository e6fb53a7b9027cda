package owner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		userID  int64
		token   string
		want    Owner
		wantErr bool
	}{
		{name: "user", userID: 7, want: User(7)},
		{name: "guest", token: "g1", want: Guest("g1")},
		{name: "guest token trimmed", token: "  g1 ", want: Guest("g1")},
		{name: "both", userID: 7, token: "g1", wantErr: true},
		{name: "neither", wantErr: true},
		{name: "blank token", token: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.userID, tt.token)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidOwner)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOwnerAccessors(t *testing.T) {
	u := User(42)
	id, ok := u.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	_, ok = u.GuestToken()
	assert.False(t, ok)
	assert.Equal(t, "user:42", u.String())

	g := Guest("abc")
	tok, ok := g.GuestToken()
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	assert.True(t, g.IsGuest())
	assert.Equal(t, "guest:abc", g.String())

	require.ErrorIs(t, Owner{}.Validate(), ErrInvalidOwner)
	require.ErrorIs(t, User(0).Validate(), ErrInvalidOwner)
	require.NoError(t, g.Validate())
}

func TestColumnsRoundTrip(t *testing.T) {
	for _, o := range []Owner{User(1), Guest("tok")} {
		uid, tok := o.Columns()
		assert.True(t, (uid == nil) != (tok == nil), "exactly one column must be set")

		back, err := FromColumns(uid, tok)
		require.NoError(t, err)
		assert.Equal(t, o, back)
	}

	one := int64(1)
	tok := "t"
	_, err := FromColumns(&one, &tok)
	require.ErrorIs(t, err, ErrInvalidOwner)
}
