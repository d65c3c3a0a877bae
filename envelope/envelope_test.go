package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return key
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey(t)

	req := &SendAmountRequest{
		Source:      []byte("src-key"),
		Destination: []byte("dst-key"),
		Amount:      20,
		SeqNum:      3,
	}
	env, err := Seal(req, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	payload, err := env.Open(&key.PublicKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, ok := payload.(*SendAmountRequest)
	if !ok {
		t.Fatalf("wrong payload type %T", payload)
	}
	if got.Amount != 20 || got.SeqNum != 3 || string(got.Source) != "src-key" {
		t.Fatalf("payload mangled: %+v", got)
	}
}

func TestOpen_WrongKey(t *testing.T) {
	signer := testKey(t)
	other := testKey(t)

	env, err := Seal(&CheckAccountRequest{PublicKey: []byte("k"), SeqNum: 1}, signer)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := env.Open(&other.PublicKey); err == nil {
		t.Fatal("verification passed under the wrong key")
	}
}

func TestOpen_TamperedMessage(t *testing.T) {
	key := testKey(t)

	env, err := Seal(&OpenAccountRequest{PublicKey: []byte("k"), SeqNum: 1}, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	env.Message[len(env.Message)-1] ^= 0x01

	if _, err := env.Open(&key.PublicKey); err == nil {
		t.Fatal("verification passed on a tampered message")
	}
}

func TestDecode_AllKinds(t *testing.T) {
	payloads := []Payload{
		&SequenceNumberRequest{PublicKey: []byte("k"), Nonce: []byte("n")},
		&SequenceNumberResponse{SeqNum: 4, Nonce: []byte("n")},
		&OpenAccountRequest{PublicKey: []byte("k"), SeqNum: 1},
		&OpenAccountResponse{Success: true, SeqNum: 1},
		&SendAmountRequest{Source: []byte("a"), Destination: []byte("b"), Amount: 7, SeqNum: 2},
		&SendAmountResponse{Success: true, SeqNum: 2},
		&CheckAccountRequest{PublicKey: []byte("k"), SeqNum: 3},
		&CheckAccountResponse{Success: true, SeqNum: 3, Balance: 30, Incoming: []Transfer{{Source: []byte("a"), Amount: 7}}},
		&ReceiveAmountRequest{PublicKey: []byte("k"), SeqNum: 4},
		&ReceiveAmountResponse{Success: true, SeqNum: 4},
		&AuditRequest{PublicKey: []byte("k"), SeqNum: 5},
		&AuditResponse{Success: true, SeqNum: 5, Audits: []string{"open accept k 50 1 ."}},
	}
	for _, p := range payloads {
		raw, err := Marshal(p)
		if err != nil {
			t.Fatalf("%T marshal: %v", p, err)
		}
		back, err := Decode(raw)
		if err != nil {
			t.Fatalf("%T decode: %v", p, err)
		}
		if back.kind() != p.kind() {
			t.Fatalf("%T came back as %T", p, back)
		}
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Fatal("decoded garbage")
	}
}

func TestClaimedKey(t *testing.T) {
	cases := []struct {
		p    Payload
		want string
	}{
		{&SequenceNumberRequest{PublicKey: []byte("a")}, "a"},
		{&OpenAccountRequest{PublicKey: []byte("b")}, "b"},
		{&SendAmountRequest{Source: []byte("c")}, "c"},
		{&CheckAccountRequest{PublicKey: []byte("d")}, "d"},
		{&ReceiveAmountRequest{PublicKey: []byte("e")}, "e"},
		{&AuditRequest{PublicKey: []byte("f")}, "f"},
	}
	for _, c := range cases {
		key, ok := ClaimedKey(c.p)
		if !ok || string(key) != c.want {
			t.Errorf("%T claimed key = %q, ok=%v", c.p, key, ok)
		}
	}

	// responses claim nothing
	if _, ok := ClaimedKey(&OpenAccountResponse{}); ok {
		t.Fatal("response claimed a key")
	}
}
