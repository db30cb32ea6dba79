package domain

import "fmt"

// AccountID names one of the two coordinated trading accounts.
type AccountID string

const (
	Account1 AccountID = "account1"
	Account2 AccountID = "account2"
)

// Other returns the counterpart account of the pair.
func (a AccountID) Other() AccountID {
	if a == Account1 {
		return Account2
	}
	return Account1
}

// Assignment records which account holds the long side for a round.
// The long account always rests the maker order.
type Assignment struct {
	Long AccountID `json:"long"`
}

func (a Assignment) Short() AccountID { return a.Long.Other() }

// MakerAccount returns the account that rests the post-only order.
func (a Assignment) MakerAccount() AccountID { return a.Long }

// TakerAccount returns the account that crosses with the IOC order.
func (a Assignment) TakerAccount() AccountID { return a.Long.Other() }

func (a Assignment) String() string {
	return fmt.Sprintf("long=%s short=%s", a.Long, a.Short())
}
