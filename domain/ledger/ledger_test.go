package ledger

import (
	"errors"
	"sync"
	"testing"
)

func TestAccount_WithdrawFloor(t *testing.T) {
	a := NewAccount(50)

	// leaving exactly zero is not allowed
	ok, err := a.Withdraw(50, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if ok {
		t.Fatal("withdraw to zero should fail")
	}
	if a.Balance() != 50 {
		t.Fatalf("balance changed on failed withdraw: %d", a.Balance())
	}

	ok, err = a.Withdraw(49, nil)
	if err != nil || !ok {
		t.Fatalf("withdraw 49: ok=%v err=%v", ok, err)
	}
	if a.Balance() != 1 {
		t.Fatalf("expected balance 1, got %d", a.Balance())
	}
}

func TestAccount_WithdrawCommitFailure(t *testing.T) {
	a := NewAccount(50)
	boom := errors.New("disk full")

	ok, err := a.Withdraw(10, func() error { return boom })
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got ok=%v err=%v", ok, err)
	}
	if a.Balance() != 50 {
		t.Fatalf("balance changed after failed commit: %d", a.Balance())
	}
}

func TestAccount_DepositAndCollect(t *testing.T) {
	a := NewAccount(50)
	a.Deposit([]byte("alice"), 20)
	a.Deposit([]byte("bob"), 5)

	if a.Balance() != 50 {
		t.Fatalf("deposit must not credit until collected, balance=%d", a.Balance())
	}
	pending := a.Pending()
	if len(pending) != 2 || pending[0].Amount != 20 || pending[1].Amount != 5 {
		t.Fatalf("bad pending queue: %+v", pending)
	}

	if err := a.Collect(nil); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if a.Balance() != 75 {
		t.Fatalf("expected 75 after collect, got %d", a.Balance())
	}
	if len(a.Pending()) != 0 {
		t.Fatal("pending queue not cleared")
	}

	// collecting again is a no-op
	if err := a.Collect(nil); err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if a.Balance() != 75 {
		t.Fatalf("second collect changed balance: %d", a.Balance())
	}
}

func TestAccount_CollectCommitFailure(t *testing.T) {
	a := NewAccount(50)
	a.Deposit([]byte("alice"), 20)

	boom := errors.New("disk full")
	if err := a.Collect(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if a.Balance() != 50 || len(a.Pending()) != 1 {
		t.Fatal("failed collect must leave state untouched")
	}
}

func TestLedger_OpenOnce(t *testing.T) {
	l := New()
	if !l.Open("alice", 50) {
		t.Fatal("first open failed")
	}
	if l.Open("alice", 50) {
		t.Fatal("second open should report existing account")
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", l.Len())
	}
	if _, ok := l.Get("alice"); !ok {
		t.Fatal("account not found after open")
	}
	if l.Exists("bob") {
		t.Fatal("phantom account")
	}
}

func TestLedger_ConcurrentDeposits(t *testing.T) {
	l := New()
	l.Open("alice", 50)
	acct, _ := l.Get("alice")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acct.Deposit([]byte("bob"), 1)
		}()
	}
	wg.Wait()

	if err := acct.Collect(nil); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if acct.Balance() != 50+n {
		t.Fatalf("expected %d, got %d", 50+n, acct.Balance())
	}
}

func TestTracker_EntryAndFastForward(t *testing.T) {
	tr := NewTracker()

	if _, ok := tr.Entry("alice", false); ok {
		t.Fatal("entry exists before creation")
	}
	st, ok := tr.Entry("alice", true)
	if !ok || st == nil {
		t.Fatal("create failed")
	}
	if st.Seq != 0 {
		t.Fatalf("fresh entry seq = %d", st.Seq)
	}

	// creating again returns the same state
	st2, _ := tr.Entry("alice", true)
	if st2 != st {
		t.Fatal("duplicate create returned a different entry")
	}

	tr.FastForward("alice", 9)
	if cur, _ := tr.Current("alice"); cur != 9 {
		t.Fatalf("expected 9, got %d", cur)
	}

	tr.FastForward("bob", 3)
	if cur, ok := tr.Current("bob"); !ok || cur != 3 {
		t.Fatalf("fast-forward did not create entry: %d %v", cur, ok)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	key := []byte{0x30, 0x82, 0x01, 0x22, 0xff, 0x00}
	id := IdentityOf(key)
	back, err := DecodeIdentity(id)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(back) != string(key) {
		t.Fatal("identity round trip mismatch")
	}
}
