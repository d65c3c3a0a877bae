// Package rpc holds the wire contract shared by server and client: the
// service and method names and the msgpack codec the envelopes travel
// in. Both sides import it, which also registers the codec with grpc.
package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

const ServiceName = "tally.Ledger"

const (
	MethodSequenceNumber = "/" + ServiceName + "/SequenceNumber"
	MethodOpenAccount    = "/" + ServiceName + "/OpenAccount"
	MethodSendAmount     = "/" + ServiceName + "/SendAmount"
	MethodCheckAccount   = "/" + ServiceName + "/CheckAccount"
	MethodReceiveAmount  = "/" + ServiceName + "/ReceiveAmount"
	MethodAudit          = "/" + ServiceName + "/Audit"
)

// Codec serializes the envelope structs with msgpack. Clients select
// it per call via the content subtype; the server resolves it from the
// registry.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (Codec) Name() string {
	return "msgpack"
}

func init() {
	encoding.RegisterCodec(Codec{})
}
