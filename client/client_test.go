package client

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"tally/api/grpcserver"
	"tally/domain/ledger"
	"tally/infra/sequence"
	"tally/infra/wal"
	"tally/keystore"
	"tally/service"
)

type harness struct {
	proc      *service.Processor
	serverKey *keystore.Pair
	lis       *bufconn.Listener
}

func startServer(t *testing.T) *harness {
	t.Helper()

	serverKey, err := keystore.Generate()
	require.NoError(t, err)

	w, err := wal.Open(filepath.Join(t.TempDir(), "log.txt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	proc := service.NewProcessor(ledger.New(), ledger.NewTracker(), w, nil, sequence.New(0), zerolog.Nop())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpcserver.NewServer(proc, serverKey.Private, zerolog.Nop()).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &harness{proc: proc, serverKey: serverKey, lis: lis}
}

func (h *harness) dial(t *testing.T, keys *keystore.Pair) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Dial(ctx, "passthrough:///ledger", keys, h.serverKey.Public, zerolog.Nop(),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return h.lis.Dial()
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	c.timeout = 2 * time.Second
	return c
}

func TestClient_EndToEnd(t *testing.T) {
	h := startServer(t)

	alice, err := keystore.Generate()
	require.NoError(t, err)
	bob, err := keystore.Generate()
	require.NoError(t, err)

	ctx := context.Background()
	ca := h.dial(t, alice)
	cb := h.dial(t, bob)

	// fresh identities bootstrap to counter 1
	require.Equal(t, uint64(1), ca.Sequence())

	open, err := ca.OpenAccount(ctx)
	require.NoError(t, err)
	require.True(t, open.Success)

	_, err = cb.OpenAccount(ctx)
	require.NoError(t, err)

	sent, err := ca.SendAmount(ctx, bob.DER, 20)
	require.NoError(t, err)
	require.True(t, sent.Success)

	check, err := cb.CheckAccount(ctx)
	require.NoError(t, err)
	require.True(t, check.Success)
	require.EqualValues(t, 50, check.Balance)
	require.Len(t, check.Incoming, 1)
	require.EqualValues(t, 20, check.Incoming[0].Amount)
	require.Equal(t, alice.DER, check.Incoming[0].Source)

	recv, err := cb.ReceiveAmount(ctx)
	require.NoError(t, err)
	require.True(t, recv.Success)

	check, err = cb.CheckAccount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 70, check.Balance)
	require.Empty(t, check.Incoming)

	audit, err := ca.Audit(ctx)
	require.NoError(t, err)
	require.True(t, audit.Success)
	require.Len(t, audit.Audits, 2) // open + accepted send

	// the counter advanced once per authoritative response
	require.Equal(t, uint64(4), ca.Sequence())
}

func TestClient_RejectionsAdvanceCounter(t *testing.T) {
	h := startServer(t)

	alice, err := keystore.Generate()
	require.NoError(t, err)

	ctx := context.Background()
	ca := h.dial(t, alice)

	_, err = ca.OpenAccount(ctx)
	require.NoError(t, err)

	// a rejected reopen is still an authoritative answer
	reopen, err := ca.OpenAccount(ctx)
	require.NoError(t, err)
	require.False(t, reopen.Success)
	require.Equal(t, "Account already opened", reopen.ErrorMessage)

	sent, err := ca.SendAmount(ctx, alice.DER, 10)
	require.NoError(t, err)
	require.False(t, sent.Success)
	require.Equal(t, "can't send money to yourself", sent.ErrorMessage)

	require.Equal(t, uint64(4), ca.Sequence())
}

func TestClient_BootstrapResumesMidStream(t *testing.T) {
	h := startServer(t)

	alice, err := keystore.Generate()
	require.NoError(t, err)

	ctx := context.Background()
	ca := h.dial(t, alice)
	_, err = ca.OpenAccount(ctx)
	require.NoError(t, err)
	_, err = ca.CheckAccount(ctx)
	require.NoError(t, err)

	// a new driver for the same identity resumes past the consumed
	// sequence numbers instead of restarting at 1
	ca2 := h.dial(t, alice)
	require.Equal(t, uint64(3), ca2.Sequence())

	check, err := ca2.CheckAccount(ctx)
	require.NoError(t, err)
	require.True(t, check.Success)
}

func TestClient_UnverifiableServerTimesOut(t *testing.T) {
	h := startServer(t)

	alice, err := keystore.Generate()
	require.NoError(t, err)
	imposter, err := keystore.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// dialing with the wrong server key: every bootstrap reply fails
	// verification, so Dial only returns when the context expires
	_, err = Dial(ctx, "passthrough:///ledger", alice, imposter.Public, zerolog.Nop(),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return h.lis.Dial()
		}),
	)
	require.Error(t, err)
}
