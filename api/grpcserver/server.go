// Package grpcserver exposes the processor over gRPC. Every method
// takes and returns a signed envelope; a request that fails
// verification, or one the processor yields no decision for, gets no
// response at all: the handler parks until the caller's own deadline
// fires, which is exactly what a crashed server looks like.
package grpcserver

import (
	"context"
	"crypto/rsa"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"tally/api/rpc"
	"tally/envelope"
	"tally/keystore"
	"tally/service"
)

// Server adapts the Processor to the RPC surface and signs every
// response with the server key.
type Server struct {
	proc *service.Processor
	key  *rsa.PrivateKey
	log  zerolog.Logger
}

func NewServer(proc *service.Processor, key *rsa.PrivateKey, log zerolog.Logger) *Server {
	return &Server{proc: proc, key: key, log: log}
}

// Register attaches the ledger service to a grpc server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

//
// -------------------- Handlers --------------------
//

func (s *Server) sequenceNumber(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	req, ok := authenticate[*envelope.SequenceNumberRequest](s, in)
	if !ok {
		return s.drop(ctx)
	}
	return s.seal(ctx, s.proc.SequenceNumber(req.PublicKey, req.Nonce))
}

func (s *Server) openAccount(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	req, ok := authenticate[*envelope.OpenAccountRequest](s, in)
	if !ok {
		return s.drop(ctx)
	}
	resp, err := s.proc.OpenAccount(req.PublicKey, req.SeqNum, false)
	if err != nil {
		return s.drop(ctx)
	}
	return s.seal(ctx, resp)
}

func (s *Server) sendAmount(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	req, ok := authenticate[*envelope.SendAmountRequest](s, in)
	if !ok {
		return s.drop(ctx)
	}
	resp, err := s.proc.SendAmount(req.Source, req.Destination, req.Amount, req.SeqNum, false)
	if err != nil {
		return s.drop(ctx)
	}
	return s.seal(ctx, resp)
}

func (s *Server) checkAccount(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	req, ok := authenticate[*envelope.CheckAccountRequest](s, in)
	if !ok {
		return s.drop(ctx)
	}
	resp, err := s.proc.CheckAccount(req.PublicKey, req.SeqNum)
	if err != nil {
		return s.drop(ctx)
	}
	return s.seal(ctx, resp)
}

func (s *Server) receiveAmount(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	req, ok := authenticate[*envelope.ReceiveAmountRequest](s, in)
	if !ok {
		return s.drop(ctx)
	}
	resp, err := s.proc.ReceiveAmount(req.PublicKey, req.SeqNum, false)
	if err != nil {
		return s.drop(ctx)
	}
	return s.seal(ctx, resp)
}

func (s *Server) audit(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	req, ok := authenticate[*envelope.AuditRequest](s, in)
	if !ok {
		return s.drop(ctx)
	}
	resp, err := s.proc.Audit(req.PublicKey, req.SeqNum)
	if err != nil {
		return s.drop(ctx)
	}
	return s.seal(ctx, resp)
}

//
// -------------------- Envelope plumbing --------------------
//

// authenticate decodes the message, then verifies the signature
// against the key the message itself claims; only a verified payload
// of the expected type comes back. The identity acted on is always
// taken from the verified message, never from transport metadata.
func authenticate[T envelope.Payload](s *Server, in *envelope.Envelope) (T, bool) {
	var zero T
	p, err := envelope.Decode(in.Message)
	if err != nil {
		return zero, false
	}
	der, ok := envelope.ClaimedKey(p)
	if !ok {
		return zero, false
	}
	pub, err := keystore.ParsePublic(der)
	if err != nil {
		return zero, false
	}
	if !envelope.Verify(in.Message, in.Signature, pub) {
		s.log.Debug().Msg("dropping request with bad signature")
		return zero, false
	}
	req, ok := p.(T)
	if !ok {
		return zero, false
	}
	return req, true
}

func (s *Server) seal(ctx context.Context, p envelope.Payload) (*envelope.Envelope, error) {
	env, err := envelope.Seal(p, s.key)
	if err != nil {
		s.log.Error().Err(err).Msg("sealing response failed")
		return s.drop(ctx)
	}
	return env, nil
}

// drop sends nothing: the handler waits out the caller's deadline so
// the client observes a timeout, not an error it could act on.
func (s *Server) drop(ctx context.Context) (*envelope.Envelope, error) {
	<-ctx.Done()
	return nil, status.FromContextError(ctx.Err()).Err()
}

//
// -------------------- Service descriptor --------------------
//

// ledgerServer is the handler surface the descriptor dispatches on.
type ledgerServer interface {
	sequenceNumber(context.Context, *envelope.Envelope) (*envelope.Envelope, error)
	openAccount(context.Context, *envelope.Envelope) (*envelope.Envelope, error)
	sendAmount(context.Context, *envelope.Envelope) (*envelope.Envelope, error)
	checkAccount(context.Context, *envelope.Envelope) (*envelope.Envelope, error)
	receiveAmount(context.Context, *envelope.Envelope) (*envelope.Envelope, error)
	audit(context.Context, *envelope.Envelope) (*envelope.Envelope, error)
}

// serviceDesc is written by hand: every method has the same
// envelope-in, envelope-out shape, so there is nothing to generate.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: rpc.ServiceName,
	HandlerType: (*ledgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SequenceNumber", Handler: unaryHandler(rpc.MethodSequenceNumber, (*Server).sequenceNumber)},
		{MethodName: "OpenAccount", Handler: unaryHandler(rpc.MethodOpenAccount, (*Server).openAccount)},
		{MethodName: "SendAmount", Handler: unaryHandler(rpc.MethodSendAmount, (*Server).sendAmount)},
		{MethodName: "CheckAccount", Handler: unaryHandler(rpc.MethodCheckAccount, (*Server).checkAccount)},
		{MethodName: "ReceiveAmount", Handler: unaryHandler(rpc.MethodReceiveAmount, (*Server).receiveAmount)},
		{MethodName: "Audit", Handler: unaryHandler(rpc.MethodAudit, (*Server).audit)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tally/api/rpc",
}

type methodFunc func(*Server, context.Context, *envelope.Envelope) (*envelope.Envelope, error)

func unaryHandler(fullMethod string, call methodFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(envelope.Envelope)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(*Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(*Server), ctx, req.(*envelope.Envelope))
		})
	}
}
