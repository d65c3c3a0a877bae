// Package client is the ledger client driver: it keeps the local
// sequence counter, signs every request, verifies every response
// against the server key and retries idempotently when a response is
// lost.
package client

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"tally/api/rpc"
	"tally/envelope"
	"tally/keystore"
)

const (
	maxAttempts    = 3
	defaultTimeout = 5 * time.Second
)

// ErrNotResponding is returned once every attempt of a call timed out.
var ErrNotResponding = errors.New("client: server is not responding")

// errBadReply marks a response that failed verification or did not
// decode; it is retried silently, same as no response at all.
var errBadReply = errors.New("client: reply failed verification")

// Client drives signed calls against one server on behalf of one
// identity. Not safe for concurrent use: the local sequence counter
// orders this identity's requests.
type Client struct {
	conn      *grpc.ClientConn
	keys      *keystore.Pair
	serverKey *rsa.PublicKey
	seq       uint64
	timeout   time.Duration
	log       zerolog.Logger
}

// Dial connects and runs the bootstrap query until a verified answer
// sets the local counter. It blocks until then or until ctx ends.
func Dial(ctx context.Context, target string, keys *keystore.Pair, serverKey *rsa.PublicKey, log zerolog.Logger, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.Codec{}.Name())),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", target, err)
	}
	c := &Client{
		conn:      conn,
		keys:      keys,
		serverKey: serverKey,
		timeout:   defaultTimeout,
		log:       log,
	}
	if err := c.bootstrap(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Sequence exposes the local counter, mainly for tests.
func (c *Client) Sequence() uint64 {
	return c.seq
}

// bootstrap asks the server for this identity's last consumed sequence
// number, retrying without bound. Each attempt carries a fresh nonce
// and the echo must match, so a replayed old answer cannot seed the
// counter.
func (c *Client) bootstrap(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		nonce := uuid.New()
		reply, err := c.roundTrip(ctx, rpc.MethodSequenceNumber, &envelope.SequenceNumberRequest{
			PublicKey: c.keys.DER,
			Nonce:     nonce[:],
		})
		if err != nil {
			continue
		}
		resp, ok := reply.(*envelope.SequenceNumberResponse)
		if !ok || !bytes.Equal(resp.Nonce, nonce[:]) {
			continue
		}
		c.seq = resp.SeqNum + 1
		return nil
	}
}

//
// -------------------- Operations --------------------
//

func (c *Client) OpenAccount(ctx context.Context) (*envelope.OpenAccountResponse, error) {
	reply, err := c.call(ctx, rpc.MethodOpenAccount, func(seq uint64) envelope.Payload {
		return &envelope.OpenAccountRequest{PublicKey: c.keys.DER, SeqNum: seq}
	})
	if err != nil {
		return nil, err
	}
	return expect[*envelope.OpenAccountResponse](reply)
}

// SendAmount transfers amount to the identity with the given encoded
// public key.
func (c *Client) SendAmount(ctx context.Context, destination []byte, amount int64) (*envelope.SendAmountResponse, error) {
	reply, err := c.call(ctx, rpc.MethodSendAmount, func(seq uint64) envelope.Payload {
		return &envelope.SendAmountRequest{
			Source:      c.keys.DER,
			Destination: destination,
			Amount:      amount,
			SeqNum:      seq,
		}
	})
	if err != nil {
		return nil, err
	}
	return expect[*envelope.SendAmountResponse](reply)
}

func (c *Client) CheckAccount(ctx context.Context) (*envelope.CheckAccountResponse, error) {
	reply, err := c.call(ctx, rpc.MethodCheckAccount, func(seq uint64) envelope.Payload {
		return &envelope.CheckAccountRequest{PublicKey: c.keys.DER, SeqNum: seq}
	})
	if err != nil {
		return nil, err
	}
	return expect[*envelope.CheckAccountResponse](reply)
}

func (c *Client) ReceiveAmount(ctx context.Context) (*envelope.ReceiveAmountResponse, error) {
	reply, err := c.call(ctx, rpc.MethodReceiveAmount, func(seq uint64) envelope.Payload {
		return &envelope.ReceiveAmountRequest{PublicKey: c.keys.DER, SeqNum: seq}
	})
	if err != nil {
		return nil, err
	}
	return expect[*envelope.ReceiveAmountResponse](reply)
}

func (c *Client) Audit(ctx context.Context) (*envelope.AuditResponse, error) {
	reply, err := c.call(ctx, rpc.MethodAudit, func(seq uint64) envelope.Payload {
		return &envelope.AuditRequest{PublicKey: c.keys.DER, SeqNum: seq}
	})
	if err != nil {
		return nil, err
	}
	return expect[*envelope.AuditResponse](reply)
}

//
// -------------------- Retry core --------------------
//

// call runs the shared per-operation protocol: build and sign the
// request with the current counter, send with a fresh deadline, and
// accept only a verified response echoing that counter. Timeouts,
// unverifiable replies and sequence mismatches retry up to the bound;
// the counter advances on every authoritative response because the
// server consumed the sequence number whether it accepted or rejected.
func (c *Client) call(ctx context.Context, method string, build func(seq uint64) envelope.Payload) (envelope.Payload, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		reply, err := c.roundTrip(ctx, method, build(c.seq))
		switch {
		case err == nil:
		case errors.Is(err, errBadReply):
			continue
		case status.Code(err) == codes.DeadlineExceeded:
			c.log.Debug().Str("method", method).Int("attempt", attempt+1).Msg("deadline exceeded, retrying")
			continue
		default:
			return nil, err
		}
		seq, ok := echoedSequence(reply)
		if !ok || seq != c.seq {
			// The server's state may have advanced past us after a
			// lost response; retry and let duplicate-ack settle it.
			continue
		}
		c.seq++
		return reply, nil
	}
	return nil, ErrNotResponding
}

// roundTrip is a single signed attempt with its own deadline.
func (c *Client) roundTrip(ctx context.Context, method string, req envelope.Payload) (envelope.Payload, error) {
	env, err := envelope.Seal(req, c.keys.Private)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out := new(envelope.Envelope)
	if err := c.conn.Invoke(callCtx, method, env, out); err != nil {
		return nil, err
	}
	reply, err := out.Open(c.serverKey)
	if err != nil {
		return nil, errBadReply
	}
	return reply, nil
}

func echoedSequence(p envelope.Payload) (uint64, bool) {
	s, ok := p.(envelope.Sequenced)
	if !ok {
		return 0, false
	}
	return s.Sequence(), true
}

func expect[T envelope.Payload](reply envelope.Payload) (T, error) {
	resp, ok := reply.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("client: unexpected %T reply", reply)
	}
	return resp, nil
}
