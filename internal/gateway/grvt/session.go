package grvt

import (
	"context"
	"fmt"
	"strconv"
)

// Session is the authentication material of one account. The tool never
// refreshes it; an expired cookie surfaces as AuthExpired.
type Session struct {
	AccountID    string // main account id, sent as X-Grvt-Account-Id
	SubAccountID string
	Cookie       string // value of the "gravity" cookie
}

// SubAccount returns the numeric sub-account id used in signed messages.
func (s Session) SubAccount() (uint64, error) {
	id, err := strconv.ParseUint(s.SubAccountID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sub account id %q: %w", s.SubAccountID, err)
	}
	return id, nil
}

// SessionProvider supplies the current session of one account.
type SessionProvider interface {
	Session(ctx context.Context) (Session, error)
}

// StaticSession serves a fixed session, e.g. from config or secrets.
type StaticSession Session

// Session implements SessionProvider.
func (s StaticSession) Session(context.Context) (Session, error) {
	if s.Cookie == "" || s.SubAccountID == "" {
		return Session{}, fmt.Errorf("session for sub account %q is incomplete", s.SubAccountID)
	}
	return Session(s), nil
}
