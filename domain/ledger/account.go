package ledger

import (
	"encoding/base64"
	"sync"
)

// IdentityOf maps encoded public key bytes to the string form used as
// the account key and in log records.
func IdentityOf(encodedKey []byte) string {
	return base64.StdEncoding.EncodeToString(encodedKey)
}

// DecodeIdentity reverses IdentityOf.
func DecodeIdentity(id string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(id)
}

// Transfer is a credited-but-unclaimed amount waiting for the owner to
// call receive.
type Transfer struct {
	Source []byte
	Amount int64
}

// Account holds one identity's balance and inbound pending transfers.
// All mutation goes through methods holding the account mutex, so
// operations on different accounts never block each other.
type Account struct {
	mu      sync.Mutex
	balance int64
	pending []Transfer
}

func NewAccount(balance int64) *Account {
	return &Account{balance: balance}
}

func (a *Account) Balance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Pending returns a copy of the inbound transfer queue.
func (a *Account) Pending() []Transfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transfer, len(a.pending))
	copy(out, a.pending)
	return out
}

// Withdraw debits amount if the remaining balance stays strictly
// positive. The commit hook runs under the account lock before the
// debit lands; if it returns an error the balance is untouched.
func (a *Account) Withdraw(amount int64, commit func() error) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance-amount <= 0 {
		return false, nil
	}
	if commit != nil {
		if err := commit(); err != nil {
			return false, err
		}
	}
	a.balance -= amount
	return true, nil
}

// Deposit queues an inbound transfer. The credit is deferred until the
// owner collects it.
func (a *Account) Deposit(source []byte, amount int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, Transfer{Source: source, Amount: amount})
}

// Collect folds every pending transfer into the balance and clears the
// queue. The commit hook runs under the account lock first; an error
// leaves the queue untouched.
func (a *Account) Collect(commit func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	for _, t := range a.pending {
		a.balance += t.Amount
	}
	a.pending = nil
	return nil
}
