// Package owner defines who a cart or order belongs to: a registered user
// or an anonymous guest identified by an opaque token. Exactly one of the
// two is ever set.
package owner

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// ErrInvalidOwner is returned when both or neither of user id and guest
// token are supplied.
var ErrInvalidOwner = errors.New("exactly one of user id or guest token is required")

// Kind discriminates the Owner union.
type Kind uint8

const (
	// KindNone is the zero value and never a valid owner.
	KindNone Kind = iota
	// KindUser is a registered user.
	KindUser
	// KindGuest is an anonymous guest token.
	KindGuest
)

// Owner is a tagged union of User(id) and Guest(token). Construct it with
// User, Guest or Resolve; the zero value is invalid.
type Owner struct {
	kind   Kind
	userID int64
	token  string
}

// User returns an owner for a registered user.
func User(id int64) Owner {
	return Owner{kind: KindUser, userID: id}
}

// Guest returns an owner for an anonymous guest token.
func Guest(token string) Owner {
	return Owner{kind: KindGuest, token: token}
}

// Resolve builds an owner from the two optional identifiers supplied by the
// caller. Supplying both or neither fails with ErrInvalidOwner before any
// mutation can happen.
func Resolve(userID int64, guestToken string) (Owner, error) {
	guestToken = strings.TrimSpace(guestToken)
	switch {
	case userID > 0 && guestToken == "":
		return User(userID), nil
	case userID <= 0 && guestToken != "":
		return Guest(guestToken), nil
	default:
		return Owner{}, ErrInvalidOwner
	}
}

// Kind reports which side of the union is set.
func (o Owner) Kind() Kind { return o.kind }

// IsUser reports whether o is a registered user.
func (o Owner) IsUser() bool { return o.kind == KindUser }

// IsGuest reports whether o is a guest token.
func (o Owner) IsGuest() bool { return o.kind == KindGuest }

// UserID returns the user id and true when o is a user.
func (o Owner) UserID() (int64, bool) {
	return o.userID, o.kind == KindUser
}

// GuestToken returns the token and true when o is a guest.
func (o Owner) GuestToken() (string, bool) {
	return o.token, o.kind == KindGuest
}

// Validate checks the union invariant.
func (o Owner) Validate() error {
	switch o.kind {
	case KindUser:
		if o.userID <= 0 {
			return ErrInvalidOwner
		}
	case KindGuest:
		if o.token == "" {
			return ErrInvalidOwner
		}
	default:
		return ErrInvalidOwner
	}
	return nil
}

// String renders the owner as "user:<id>" or "guest:<token>". It is used as
// a cache key fragment.
func (o Owner) String() string {
	switch o.kind {
	case KindUser:
		return "user:" + strconv.FormatInt(o.userID, 10)
	case KindGuest:
		return "guest:" + o.token
	default:
		return "none"
	}
}

// Columns returns the nullable column pair used by relational storage.
// Exactly one of the returned pointers is non-nil for a valid owner.
func (o Owner) Columns() (userID *int64, guestToken *string) {
	switch o.kind {
	case KindUser:
		id := o.userID
		return &id, nil
	case KindGuest:
		tok := o.token
		return nil, &tok
	default:
		return nil, nil
	}
}

// FromColumns rebuilds an owner from the nullable column pair, enforcing the
// same exclusivity as the storage check constraint.
func FromColumns(userID *int64, guestToken *string) (Owner, error) {
	var (
		id  int64
		tok string
	)
	if userID != nil {
		id = *userID
	}
	if guestToken != nil {
		tok = *guestToken
	}
	return Resolve(id, tok)
}
