// Package ledger is the in-memory account table: balances, pending
// inbound transfers and the per-identity sequence state. It does no
// I/O; the write-ahead log owns durability and rebuilds this state on
// startup.
package ledger

import "github.com/cornelk/hashmap"

// Ledger maps identity to account. The table itself is a lock-free
// concurrent map, so lookups for unrelated identities never serialize;
// per-account exclusion lives on the Account.
type Ledger struct {
	accounts *hashmap.Map[string, *Account]
}

func New() *Ledger {
	return &Ledger{accounts: hashmap.New[string, *Account]()}
}

// Open creates the account with the given starting balance. It returns
// false if the identity already has one; accounts are never replaced
// or deleted.
func (l *Ledger) Open(id string, balance int64) bool {
	return l.accounts.Insert(id, NewAccount(balance))
}

func (l *Ledger) Get(id string) (*Account, bool) {
	return l.accounts.Get(id)
}

func (l *Ledger) Exists(id string) bool {
	_, ok := l.accounts.Get(id)
	return ok
}

func (l *Ledger) Len() int {
	return l.accounts.Len()
}
