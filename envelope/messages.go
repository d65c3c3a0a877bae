package envelope

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the wire form of a payload so the receiver can decode into
// the right type.
type Kind uint8

const (
	KindSequenceNumberRequest Kind = iota + 1
	KindSequenceNumberResponse
	KindOpenAccountRequest
	KindOpenAccountResponse
	KindSendAmountRequest
	KindSendAmountResponse
	KindCheckAccountRequest
	KindCheckAccountResponse
	KindReceiveAmountRequest
	KindReceiveAmountResponse
	KindAuditRequest
	KindAuditResponse
)

// Payload is the closed set of messages an envelope can carry, one
// request and one response type per operation.
type Payload interface {
	kind() Kind
}

// Sequenced is implemented by every response that echoes the request's
// sequence number; the client uses it to decide whether a response is
// authoritative for its local counter.
type Sequenced interface {
	Sequence() uint64
}

type SequenceNumberRequest struct {
	PublicKey []byte `msgpack:"public_key"`
	Nonce     []byte `msgpack:"nonce"`
}

type SequenceNumberResponse struct {
	SeqNum uint64 `msgpack:"seq_num"`
	Nonce  []byte `msgpack:"nonce"`
}

type OpenAccountRequest struct {
	PublicKey []byte `msgpack:"public_key"`
	SeqNum    uint64 `msgpack:"seq_num"`
}

type OpenAccountResponse struct {
	Success      bool   `msgpack:"success"`
	SeqNum       uint64 `msgpack:"seq_num"`
	ErrorMessage string `msgpack:"error_message,omitempty"`
}

type SendAmountRequest struct {
	Source      []byte `msgpack:"source"`
	Destination []byte `msgpack:"destination"`
	Amount      int64  `msgpack:"amount"`
	SeqNum      uint64 `msgpack:"seq_num"`
}

type SendAmountResponse struct {
	Success      bool   `msgpack:"success"`
	SeqNum       uint64 `msgpack:"seq_num"`
	ErrorMessage string `msgpack:"error_message,omitempty"`
}

type CheckAccountRequest struct {
	PublicKey []byte `msgpack:"public_key"`
	SeqNum    uint64 `msgpack:"seq_num"`
}

// Transfer is the wire form of a pending inbound transfer.
type Transfer struct {
	Source []byte `msgpack:"source"`
	Amount int64  `msgpack:"amount"`
}

type CheckAccountResponse struct {
	Success      bool       `msgpack:"success"`
	SeqNum       uint64     `msgpack:"seq_num"`
	Balance      int64      `msgpack:"balance"`
	Incoming     []Transfer `msgpack:"incoming,omitempty"`
	ErrorMessage string     `msgpack:"error_message,omitempty"`
}

type ReceiveAmountRequest struct {
	PublicKey []byte `msgpack:"public_key"`
	SeqNum    uint64 `msgpack:"seq_num"`
}

type ReceiveAmountResponse struct {
	Success      bool   `msgpack:"success"`
	SeqNum       uint64 `msgpack:"seq_num"`
	ErrorMessage string `msgpack:"error_message,omitempty"`
}

type AuditRequest struct {
	PublicKey []byte `msgpack:"public_key"`
	SeqNum    uint64 `msgpack:"seq_num"`
}

type AuditResponse struct {
	Success      bool     `msgpack:"success"`
	SeqNum       uint64   `msgpack:"seq_num"`
	Audits       []string `msgpack:"audits,omitempty"`
	ErrorMessage string   `msgpack:"error_message,omitempty"`
}

func (*SequenceNumberRequest) kind() Kind  { return KindSequenceNumberRequest }
func (*SequenceNumberResponse) kind() Kind { return KindSequenceNumberResponse }
func (*OpenAccountRequest) kind() Kind     { return KindOpenAccountRequest }
func (*OpenAccountResponse) kind() Kind    { return KindOpenAccountResponse }
func (*SendAmountRequest) kind() Kind      { return KindSendAmountRequest }
func (*SendAmountResponse) kind() Kind     { return KindSendAmountResponse }
func (*CheckAccountRequest) kind() Kind    { return KindCheckAccountRequest }
func (*CheckAccountResponse) kind() Kind   { return KindCheckAccountResponse }
func (*ReceiveAmountRequest) kind() Kind   { return KindReceiveAmountRequest }
func (*ReceiveAmountResponse) kind() Kind  { return KindReceiveAmountResponse }
func (*AuditRequest) kind() Kind           { return KindAuditRequest }
func (*AuditResponse) kind() Kind          { return KindAuditResponse }

func (r *OpenAccountResponse) Sequence() uint64   { return r.SeqNum }
func (r *SendAmountResponse) Sequence() uint64    { return r.SeqNum }
func (r *CheckAccountResponse) Sequence() uint64  { return r.SeqNum }
func (r *ReceiveAmountResponse) Sequence() uint64 { return r.SeqNum }
func (r *AuditResponse) Sequence() uint64         { return r.SeqNum }

// ClaimedKey extracts the public key a request claims to be from. The
// caller must verify the envelope signature against this key before
// acting on anything else in the message.
func ClaimedKey(p Payload) ([]byte, bool) {
	switch req := p.(type) {
	case *SequenceNumberRequest:
		return req.PublicKey, true
	case *OpenAccountRequest:
		return req.PublicKey, true
	case *SendAmountRequest:
		return req.Source, true
	case *CheckAccountRequest:
		return req.PublicKey, true
	case *ReceiveAmountRequest:
		return req.PublicKey, true
	case *AuditRequest:
		return req.PublicKey, true
	}
	return nil, false
}

// message is the frame actually serialized and signed.
type message struct {
	Kind Kind               `msgpack:"kind"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// Marshal serializes a payload into the byte form that gets signed and
// transmitted.
func Marshal(p Payload) ([]byte, error) {
	body, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal body: %w", err)
	}
	raw, err := msgpack.Marshal(message{Kind: p.kind(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal frame: %w", err)
	}
	return raw, nil
}

// Decode deserializes message bytes back into a typed payload.
func Decode(raw []byte) (Payload, error) {
	var m message
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("envelope: decode frame: %w", err)
	}
	var p Payload
	switch m.Kind {
	case KindSequenceNumberRequest:
		p = new(SequenceNumberRequest)
	case KindSequenceNumberResponse:
		p = new(SequenceNumberResponse)
	case KindOpenAccountRequest:
		p = new(OpenAccountRequest)
	case KindOpenAccountResponse:
		p = new(OpenAccountResponse)
	case KindSendAmountRequest:
		p = new(SendAmountRequest)
	case KindSendAmountResponse:
		p = new(SendAmountResponse)
	case KindCheckAccountRequest:
		p = new(CheckAccountRequest)
	case KindCheckAccountResponse:
		p = new(CheckAccountResponse)
	case KindReceiveAmountRequest:
		p = new(ReceiveAmountRequest)
	case KindReceiveAmountResponse:
		p = new(ReceiveAmountResponse)
	case KindAuditRequest:
		p = new(AuditRequest)
	case KindAuditResponse:
		p = new(AuditResponse)
	default:
		return nil, fmt.Errorf("envelope: unknown payload kind %d", m.Kind)
	}
	if err := msgpack.Unmarshal(m.Body, p); err != nil {
		return nil, fmt.Errorf("envelope: decode body: %w", err)
	}
	return p, nil
}
