package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oplog"
	"github.com/speedrun-hq/speedrun-settlement/pkg/transport"
)

// InDoubtFill is a fill whose dispatch was journaled but whose outcome was
// not, because the process stopped mid-dispatch or the commit entry could not
// be written. The intent accepts no further fills until the owner resolves it.
type InDoubtFill struct {
	Seq      uint64
	IntentID common.Hash
	Solver   common.Address
	Amount   *big.Int
	Fee      *big.Int
	// MessageID is known only when the dispatch happened in this process
	MessageID  common.Hash
	RecordedAt time.Time
}

func (f InDoubtFill) clone() InDoubtFill {
	f.Amount = new(big.Int).Set(f.Amount)
	f.Fee = new(big.Int).Set(f.Fee)
	return f
}

// Restore rebuilds an engine from its operation log. Custody balances are
// not part of the log and must be supplied as they are.
func Restore(ctx context.Context, journal oplog.Log, cfg Config, custody Custody, tr transport.Transport, opts ...Option) (*Engine, error) {
	e := New(cfg, custody, tr, append(opts, WithJournal(journal))...)

	entries, err := journal.Entries(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read operation log: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range entries {
		if err := e.replay(entry); err != nil {
			return nil, fmt.Errorf("replay of entry %d (%s) failed: %w", entry.Seq, entry.Kind, err)
		}
	}

	if e.feed != nil && e.oracleCfg.FeedID != e.feed.ID() {
		e.logger.Notice("Journaled feed %q replaced by configured feed %q", e.oracleCfg.FeedID, e.feed.ID())
		e.oracleCfg.FeedID = e.feed.ID()
	}
	e.updateStateGauge()

	inDoubt := 0
	for _, entry := range e.intents {
		if entry.inDoubt != nil {
			inDoubt++
			e.logger.Error("Fill of %s on %s was dispatching when the log ends; awaiting resolution",
				entry.inDoubt.Amount, entry.inDoubt.IntentID.Hex())
		}
	}
	e.logger.Info("Restored %d intents from %d log entries (%d in doubt)", len(e.intents), len(entries), inDoubt)
	return e, nil
}

func (e *Engine) replay(le oplog.Entry) error {
	switch le.Kind {
	case oplog.KindIntentRegistered:
		var p oplog.IntentRegistered
		if err := le.Decode(&p); err != nil {
			return err
		}
		if _, exists := e.intents[le.IntentID]; exists {
			return fmt.Errorf("intent %s registered twice", le.IntentID.Hex())
		}
		e.applyRegistered(le.IntentID, p.Params, p.CreatedAt)

	case oplog.KindBidSubmitted:
		var p oplog.BidSubmitted
		if err := le.Decode(&p); err != nil {
			return err
		}
		entry, err := e.lookup(le.IntentID)
		if err != nil {
			return err
		}
		e.applyBid(entry, p.Bid)

	case oplog.KindBidSelected:
		var p oplog.BidSelected
		if err := le.Decode(&p); err != nil {
			return err
		}
		entry, err := e.lookup(le.IntentID)
		if err != nil {
			return err
		}
		return e.applySelected(entry.record, p.Solver, p.Cost, p.DstGas)

	case oplog.KindFillDispatching:
		var p oplog.Fill
		if err := le.Decode(&p); err != nil {
			return err
		}
		entry, err := e.lookup(le.IntentID)
		if err != nil {
			return err
		}
		if entry.inDoubt != nil {
			return errors.New("fill dispatched while another was unresolved")
		}
		entry.inDoubt = &InDoubtFill{
			Seq:        le.Seq,
			IntentID:   le.IntentID,
			Solver:     p.Solver,
			Amount:     p.Amount,
			Fee:        p.Fee,
			RecordedAt: le.RecordedAt,
		}

	case oplog.KindFillCommitted:
		var p oplog.Fill
		if err := le.Decode(&p); err != nil {
			return err
		}
		entry, err := e.lookup(le.IntentID)
		if err != nil {
			return err
		}
		entry.inDoubt = nil
		return e.applyFilled(entry.record, p.Amount)

	case oplog.KindFillAborted:
		entry, err := e.lookup(le.IntentID)
		if err != nil {
			return err
		}
		entry.inDoubt = nil

	case oplog.KindOracleConfigChanged:
		var p oplog.OracleConfigChanged
		if err := le.Decode(&p); err != nil {
			return err
		}
		e.oracleCfg = p.Config

	default:
		return fmt.Errorf("unknown entry kind %q", le.Kind)
	}
	return nil
}

// ResolveFill settles a recovered in-doubt fill. delivered reports whether the
// transport carried the message; only then is the amount counted as filled.
// Reconciling custody for the recovered fill is left to the operator.
func (e *Engine) ResolveFill(ctx context.Context, caller common.Address, id common.Hash, delivered bool, messageID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	entry, err := e.lookup(id)
	if err != nil {
		return err
	}
	fill := entry.inDoubt
	if fill == nil {
		return fmt.Errorf("%w: intent %s has no unresolved fill", ErrWrongState, id.Hex())
	}

	if !delivered {
		if err := e.record(ctx, oplog.KindFillAborted, id, oplog.Fill{
			Solver: fill.Solver,
			Amount: fill.Amount,
			Fee:    fill.Fee,
			Reason: "resolved as undelivered",
		}); err != nil {
			return err
		}
		entry.inDoubt = nil
		e.logger.Notice("Resolved in-doubt fill on %s as undelivered", id.Hex())
		return nil
	}

	// validate before journaling so a bad resolution leaves no trace
	trial := entry.record.Clone()
	if err := e.applyFilled(trial, fill.Amount); err != nil {
		return err
	}
	if err := e.record(ctx, oplog.KindFillCommitted, id, oplog.Fill{
		Solver:    fill.Solver,
		Amount:    fill.Amount,
		Fee:       fill.Fee,
		MessageID: messageID,
	}); err != nil {
		return err
	}
	e.mustSettle("apply resolved fill", e.applyFilled(entry.record, fill.Amount))
	entry.inDoubt = nil

	e.emit(models.EventIntentFilled, id, func(ev *models.Event) {
		ev.Solver = fill.Solver
		ev.Amount = new(big.Int).Set(fill.Amount)
		ev.MessageID = messageID
	})
	if entry.record.State == models.StateExecuted {
		e.emit(models.EventIntentExecuted, id, nil)
	}
	e.updateStateGauge()
	e.logger.Notice("Resolved in-doubt fill on %s as delivered (message %s)", id.Hex(), messageID.Hex())
	return nil
}
