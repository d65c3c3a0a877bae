// Package service is the request-processing state machine shared by
// every RPC: per-identity sequence classification, business rules,
// write-ahead logging and the replay that rebuilds state on startup.
package service

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"tally/domain/ledger"
	"tally/envelope"
	"tally/infra/outbox"
	"tally/infra/sequence"
	"tally/infra/wal"
)

// DefaultBalance is the fixed starting balance of a freshly opened
// account.
const DefaultBalance int64 = 50

// ErrNoDecision means the request was out of order (or from an unknown
// identity on an operation that may not bootstrap one). The endpoint
// must send no response and leave recovery to the client's retry loop.
var ErrNoDecision = errors.New("service: no decision")

const (
	msgAlreadyOpened = "Account already opened"
	msgNoSuchAccount = "Account does not exist"
	msgMissingParty  = "sender or receiver does not have an account"
	msgNonPositive   = "amount needs to be positive"
	msgSelfTransfer  = "can't send money to yourself"
	msgNegativeFunds = "balance cannot be negative"
)

// Processor applies one signed operation at a time against the ledger
// and sequence tracker, writing every decision to the log before it
// becomes observable.
type Processor struct {
	ledger *ledger.Ledger
	seqs   *ledger.Tracker
	wal    *wal.Log
	outbox *outbox.Outbox      // nil disables broadcasting
	events *sequence.Sequencer // outbox keys
	log    zerolog.Logger
}

// NewProcessor wires the state machine. The outbox may be nil.
func NewProcessor(
	l *ledger.Ledger,
	seqs *ledger.Tracker,
	w *wal.Log,
	ob *outbox.Outbox,
	events *sequence.Sequencer,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		ledger: l,
		seqs:   seqs,
		wal:    w,
		outbox: ob,
		events: events,
		log:    log,
	}
}

//
// -------------------- Bootstrap query --------------------
//

// SequenceNumber answers the client bootstrap query: the identity's
// last consumed sequence number, with the caller's nonce echoed back.
// First contact installs a zero entry; no log write, nothing consumed.
func (p *Processor) SequenceNumber(key, nonce []byte) *envelope.SequenceNumberResponse {
	id := ledger.IdentityOf(key)
	st, _ := p.seqs.Entry(id, true)
	st.Lock()
	seq := st.Seq
	st.Unlock()
	return &envelope.SequenceNumberResponse{SeqNum: seq, Nonce: nonce}
}

//
// -------------------- Open --------------------
//

func (p *Processor) OpenAccount(key []byte, incoming uint64, fromLog bool) (*envelope.OpenAccountResponse, error) {
	id := ledger.IdentityOf(key)

	if fromLog {
		p.seqs.FastForward(id, incoming)
		p.ledger.Open(id, DefaultBalance)
		return &envelope.OpenAccountResponse{Success: true, SeqNum: incoming}, nil
	}

	// Open may bootstrap sequence state on first contact.
	st, _ := p.seqs.Entry(id, true)
	st.Lock()
	defer st.Unlock()

	switch Classify(st.Seq, incoming) {
	case Duplicate:
		if p.ledger.Exists(id) {
			return &envelope.OpenAccountResponse{SeqNum: st.Seq, ErrorMessage: msgAlreadyOpened}, nil
		}
		return &envelope.OpenAccountResponse{Success: true, SeqNum: st.Seq}, nil

	case Advance:
		st.Seq = incoming
		rec := wal.Record{
			Op:   wal.OpOpen,
			Args: []string{id, strconv.FormatInt(DefaultBalance, 10)},
			Seq:  incoming,
		}
		if p.ledger.Exists(id) {
			rec.Decision = wal.Reject
			if err := p.append(rec, st); err != nil {
				return nil, err
			}
			return &envelope.OpenAccountResponse{SeqNum: incoming, ErrorMessage: msgAlreadyOpened}, nil
		}
		rec.Decision = wal.Accept
		if err := p.append(rec, st); err != nil {
			return nil, err
		}
		p.ledger.Open(id, DefaultBalance)
		p.publish(outbox.Event{Op: wal.OpOpen, Identity: id, Seq: incoming})
		return &envelope.OpenAccountResponse{Success: true, SeqNum: incoming}, nil
	}
	return nil, ErrNoDecision
}

//
// -------------------- Send --------------------
//

func (p *Processor) SendAmount(source, destination []byte, amount int64, incoming uint64, fromLog bool) (*envelope.SendAmountResponse, error) {
	srcID := ledger.IdentityOf(source)
	dstID := ledger.IdentityOf(destination)

	if fromLog {
		p.seqs.FastForward(srcID, incoming)
		from, okFrom := p.ledger.Get(srcID)
		to, okTo := p.ledger.Get(dstID)
		if okFrom && okTo {
			if _, err := from.Withdraw(amount, nil); err != nil {
				return nil, err
			}
			to.Deposit(source, amount)
		}
		return &envelope.SendAmountResponse{Success: true, SeqNum: incoming}, nil
	}

	st, ok := p.seqs.Entry(srcID, false)
	if !ok {
		return nil, ErrNoDecision
	}
	st.Lock()
	defer st.Unlock()

	switch Classify(st.Seq, incoming) {
	case Duplicate:
		// Re-derived from present state. The balance rule is not
		// re-checked here: the prior accept already moved the funds,
		// and re-checking against the debited balance would contradict
		// that decision.
		if msg, ok := p.sendRejection(srcID, dstID, amount); !ok {
			return &envelope.SendAmountResponse{SeqNum: st.Seq, ErrorMessage: msg}, nil
		}
		return &envelope.SendAmountResponse{Success: true, SeqNum: st.Seq}, nil

	case Advance:
		st.Seq = incoming
		rec := wal.Record{
			Op:   wal.OpSend,
			Args: []string{srcID, dstID, strconv.FormatInt(amount, 10)},
			Seq:  incoming,
		}
		if msg, ok := p.sendRejection(srcID, dstID, amount); !ok {
			rec.Decision = wal.Reject
			if err := p.append(rec, st); err != nil {
				return nil, err
			}
			return &envelope.SendAmountResponse{SeqNum: incoming, ErrorMessage: msg}, nil
		}

		from, _ := p.ledger.Get(srcID)
		to, _ := p.ledger.Get(dstID)

		// The accept line is written under the sender's account lock,
		// before the debit lands; a log failure leaves the balance
		// untouched and the call unanswered.
		rec.Decision = wal.Accept
		debited, err := from.Withdraw(amount, func() error {
			return p.append(rec, st)
		})
		if err != nil {
			return nil, err
		}
		if !debited {
			rec.Decision = wal.Reject
			if err := p.append(rec, st); err != nil {
				return nil, err
			}
			return &envelope.SendAmountResponse{SeqNum: incoming, ErrorMessage: msgNegativeFunds}, nil
		}

		to.Deposit(source, amount)
		p.publish(outbox.Event{Op: wal.OpSend, Identity: srcID, Destination: dstID, Amount: amount, Seq: incoming})
		return &envelope.SendAmountResponse{Success: true, SeqNum: incoming}, nil
	}
	return nil, ErrNoDecision
}

// sendRejection evaluates the stateless send rules, returning the
// rejection message when one fails.
func (p *Processor) sendRejection(srcID, dstID string, amount int64) (string, bool) {
	if !p.ledger.Exists(srcID) || !p.ledger.Exists(dstID) {
		return msgMissingParty, false
	}
	if amount <= 0 {
		return msgNonPositive, false
	}
	if srcID == dstID {
		return msgSelfTransfer, false
	}
	return "", true
}

//
// -------------------- Check --------------------
//

// CheckAccount reads balance and pending transfers. It never touches
// the ledger; on the advance path its only durable side effect is the
// sequence bump, recorded as a check line.
func (p *Processor) CheckAccount(key []byte, incoming uint64) (*envelope.CheckAccountResponse, error) {
	id := ledger.IdentityOf(key)

	st, ok := p.seqs.Entry(id, false)
	if !ok {
		return nil, ErrNoDecision
	}
	st.Lock()
	defer st.Unlock()

	switch Classify(st.Seq, incoming) {
	case Duplicate:
		acct, ok := p.ledger.Get(id)
		if !ok {
			return &envelope.CheckAccountResponse{SeqNum: st.Seq, ErrorMessage: msgNoSuchAccount}, nil
		}
		return p.checkResponse(acct, st.Seq), nil

	case Advance:
		st.Seq = incoming
		rec := wal.Record{Op: wal.OpCheck, Args: []string{id}, Seq: incoming}
		acct, ok := p.ledger.Get(id)
		if !ok {
			rec.Decision = wal.Reject
			if err := p.append(rec, st); err != nil {
				return nil, err
			}
			return &envelope.CheckAccountResponse{SeqNum: incoming, ErrorMessage: msgNoSuchAccount}, nil
		}
		rec.Decision = wal.Accept
		if err := p.append(rec, st); err != nil {
			return nil, err
		}
		return p.checkResponse(acct, incoming), nil
	}
	return nil, ErrNoDecision
}

func (p *Processor) checkResponse(acct *ledger.Account, seq uint64) *envelope.CheckAccountResponse {
	pending := acct.Pending()
	incoming := make([]envelope.Transfer, 0, len(pending))
	for _, t := range pending {
		incoming = append(incoming, envelope.Transfer{Source: t.Source, Amount: t.Amount})
	}
	return &envelope.CheckAccountResponse{
		Success:  true,
		SeqNum:   seq,
		Balance:  acct.Balance(),
		Incoming: incoming,
	}
}

//
// -------------------- Receive --------------------
//

func (p *Processor) ReceiveAmount(key []byte, incoming uint64, fromLog bool) (*envelope.ReceiveAmountResponse, error) {
	id := ledger.IdentityOf(key)

	if fromLog {
		p.seqs.FastForward(id, incoming)
		if acct, ok := p.ledger.Get(id); ok {
			if err := acct.Collect(nil); err != nil {
				return nil, err
			}
		}
		return &envelope.ReceiveAmountResponse{Success: true, SeqNum: incoming}, nil
	}

	st, ok := p.seqs.Entry(id, false)
	if !ok {
		return nil, ErrNoDecision
	}
	st.Lock()
	defer st.Unlock()

	switch Classify(st.Seq, incoming) {
	case Duplicate:
		if !p.ledger.Exists(id) {
			return &envelope.ReceiveAmountResponse{SeqNum: st.Seq, ErrorMessage: msgNoSuchAccount}, nil
		}
		return &envelope.ReceiveAmountResponse{Success: true, SeqNum: st.Seq}, nil

	case Advance:
		st.Seq = incoming
		rec := wal.Record{Op: wal.OpReceive, Args: []string{id}, Seq: incoming}
		acct, ok := p.ledger.Get(id)
		if !ok {
			rec.Decision = wal.Reject
			if err := p.append(rec, st); err != nil {
				return nil, err
			}
			return &envelope.ReceiveAmountResponse{SeqNum: incoming, ErrorMessage: msgNoSuchAccount}, nil
		}
		rec.Decision = wal.Accept
		if err := acct.Collect(func() error { return p.append(rec, st) }); err != nil {
			return nil, err
		}
		p.publish(outbox.Event{Op: wal.OpReceive, Identity: id, Seq: incoming})
		return &envelope.ReceiveAmountResponse{Success: true, SeqNum: incoming}, nil
	}
	return nil, ErrNoDecision
}

//
// -------------------- Audit --------------------
//

// Audit returns the identity's canonical history: accepted open, send
// and receive lines mentioning it. Both the duplicate-ack and advance
// branches apply the same filter.
func (p *Processor) Audit(key []byte, incoming uint64) (*envelope.AuditResponse, error) {
	id := ledger.IdentityOf(key)

	st, ok := p.seqs.Entry(id, false)
	if !ok {
		return nil, ErrNoDecision
	}
	st.Lock()
	defer st.Unlock()

	switch Classify(st.Seq, incoming) {
	case Duplicate:
		if !p.ledger.Exists(id) {
			return &envelope.AuditResponse{SeqNum: st.Seq, ErrorMessage: msgNoSuchAccount}, nil
		}
		lines, err := p.auditLines(id)
		if err != nil {
			return nil, err
		}
		return &envelope.AuditResponse{Success: true, SeqNum: st.Seq, Audits: lines}, nil

	case Advance:
		st.Seq = incoming
		rec := wal.Record{Op: wal.OpAudit, Args: []string{id}, Seq: incoming}
		if !p.ledger.Exists(id) {
			rec.Decision = wal.Reject
			if err := p.append(rec, st); err != nil {
				return nil, err
			}
			return &envelope.AuditResponse{SeqNum: incoming, ErrorMessage: msgNoSuchAccount}, nil
		}
		lines, err := p.auditLines(id)
		if err != nil {
			st.Seq = incoming - 1
			return nil, err
		}
		rec.Decision = wal.Accept
		if err := p.append(rec, st); err != nil {
			return nil, err
		}
		return &envelope.AuditResponse{Success: true, SeqNum: incoming, Audits: lines}, nil
	}
	return nil, ErrNoDecision
}

// auditLines scans the log for the identity's canonical history.
func (p *Processor) auditLines(id string) ([]string, error) {
	lines, err := p.wal.Lines()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range lines {
		if canonicalFor(line, id) {
			out = append(out, line)
		}
	}
	return out, nil
}

var canonicalPrefixes = []string{
	wal.OpOpen + " " + string(wal.Accept),
	wal.OpSend + " " + string(wal.Accept),
	wal.OpReceive + " " + string(wal.Accept),
}

func canonicalFor(line, id string) bool {
	if !slices.Contains(strings.Fields(line), id) {
		return false
	}
	for _, prefix := range canonicalPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

//
// -------------------- Plumbing --------------------
//

// append writes a decision line, rewinding the tracker when the write
// fails: without a durable record the sequence number was never
// consumed, so the memory state must match what crash-replay would
// rebuild and the client's retry must classify as a fresh request, not
// be acked as a duplicate of a decision that never happened. The caller
// holds st locked.
func (p *Processor) append(rec wal.Record, st *ledger.SeqState) error {
	if err := p.wal.Append(rec); err != nil {
		st.Seq = rec.Seq - 1
		p.log.Error().Err(err).Str("op", rec.Op).Uint64("seq", rec.Seq).Msg("wal append failed, dropping response")
		return err
	}
	return nil
}

// publish queues an accepted decision for broadcast, best effort: a
// full or failing outbox never blocks the ledger.
func (p *Processor) publish(ev outbox.Event) {
	if p.outbox == nil {
		return
	}
	ev.V = 1
	payload, err := ev.Encode()
	if err != nil {
		return
	}
	if err := p.outbox.Put(p.events.Next(), payload); err != nil {
		p.log.Warn().Err(err).Str("op", ev.Op).Msg("outbox enqueue failed")
	}
}
