package service

import (
	"fmt"
	"strconv"

	"tally/domain/ledger"
	"tally/infra/wal"
)

// Replay rebuilds ledger and sequence state from the log. It must
// finish before the server takes traffic: accept lines re-invoke the
// business logic in fromLog mode, reject and check/audit lines only
// fast-forward the sequence tracker. It ends with the trailing-newline
// repair so a torn final record cannot corrupt the next append.
func Replay(w *wal.Log, p *Processor) (int, error) {
	count := 0
	err := w.Scan(func(rec wal.Record) error {
		if err := replayRecord(p, rec); err != nil {
			return fmt.Errorf("service: replay %s line %d: %w", rec.Op, count+1, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	if err := w.RepairTail(); err != nil {
		return count, err
	}
	return count, nil
}

func replayRecord(p *Processor, rec wal.Record) error {
	// Reject lines and pure sequence-consuming operations never touch
	// the ledger; the recorded sequence is applied directly.
	if rec.Decision == wal.Reject || rec.Op == wal.OpCheck || rec.Op == wal.OpAudit {
		p.seqs.FastForward(rec.Args[0], rec.Seq)
		return nil
	}

	switch rec.Op {
	case wal.OpOpen:
		key, err := ledger.DecodeIdentity(rec.Args[0])
		if err != nil {
			return err
		}
		_, err = p.OpenAccount(key, rec.Seq, true)
		return err

	case wal.OpSend:
		source, err := ledger.DecodeIdentity(rec.Args[0])
		if err != nil {
			return err
		}
		destination, err := ledger.DecodeIdentity(rec.Args[1])
		if err != nil {
			return err
		}
		amount, err := strconv.ParseInt(rec.Args[2], 10, 64)
		if err != nil {
			return err
		}
		_, err = p.SendAmount(source, destination, amount, rec.Seq, true)
		return err

	case wal.OpReceive:
		key, err := ledger.DecodeIdentity(rec.Args[0])
		if err != nil {
			return err
		}
		_, err = p.ReceiveAmount(key, rec.Seq, true)
		return err
	}
	return nil
}
