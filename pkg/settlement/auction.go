package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oplog"
)

// SubmitBid records solver's offer to execute intent id for executionCost,
// funding dstGasBudget on the destination
func (e *Engine) SubmitBid(ctx context.Context, solver common.Address, id common.Hash, executionCost *big.Int, dstGasBudget uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.submitBid(ctx, solver, id, executionCost, dstGasBudget)
	metrics.BidsSubmitted.WithLabelValues(ErrorKind(err)).Inc()
	if err != nil {
		e.logger.Debug("Rejected bid from %s on %s: %v", solver.Hex(), id.Hex(), err)
		return err
	}
	e.logger.Debug("Accepted bid from %s on %s: cost %s gas %d", solver.Hex(), id.Hex(), executionCost, dstGasBudget)
	return nil
}

func (e *Engine) submitBid(ctx context.Context, solver common.Address, id common.Hash, executionCost *big.Int, dstGasBudget uint64) error {
	entry, err := e.lookup(id)
	if err != nil {
		return err
	}
	rec := entry.record
	if err := requireState(rec, models.StateOpen); err != nil {
		return err
	}

	now := e.now()
	if now.After(rec.AuctionClosesAt) {
		return fmt.Errorf("%w: closed at %s", ErrAuctionNotOpen, rec.AuctionClosesAt.Format("15:04:05"))
	}
	if deadlinePassed(now, rec.Params.Deadline) {
		return fmt.Errorf("%w: deadline %d", ErrIntentExpired, rec.Params.Deadline)
	}
	if _, ok := entry.bidders[solver]; ok {
		return fmt.Errorf("%w: %s already bid on %s", ErrDuplicateBid, solver.Hex(), id.Hex())
	}
	if solver == (common.Address{}) || executionCost == nil || executionCost.Sign() < 0 {
		return fmt.Errorf("%w: solver and non-negative cost required", ErrInvalidBid)
	}

	bid := models.Bid{
		IntentID:      id,
		Solver:        solver,
		ExecutionCost: new(big.Int).Set(executionCost),
		DstGasBudget:  dstGasBudget,
		SubmittedAt:   now,
	}
	if err := e.record(ctx, oplog.KindBidSubmitted, id, oplog.BidSubmitted{Bid: bid}); err != nil {
		return err
	}

	e.applyBid(entry, bid)
	e.emit(models.EventBidSubmitted, id, func(ev *models.Event) {
		ev.Solver = solver
		ev.Amount = new(big.Int).Set(executionCost)
	})
	return nil
}

// applyBid stores bid and updates the running best. A later bid only
// displaces the incumbent when strictly cheaper.
func (e *Engine) applyBid(entry *intentEntry, bid models.Bid) {
	entry.bids = append(entry.bids, bid)
	entry.bidders[bid.Solver] = struct{}{}
	best := entry.record.BestBid
	if best == nil || bid.ExecutionCost.Cmp(best.ExecutionCost) < 0 {
		b := bid.Clone()
		entry.record.BestBid = &b
	}
}

// SelectBid closes the auction on id and fixes the lowest bid as the
// executing solver. Anyone may call it once the window has closed.
func (e *Engine) SelectBid(ctx context.Context, id common.Hash) (models.Bid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bid, err := e.selectBid(ctx, id)
	metrics.AuctionsSelected.WithLabelValues(ErrorKind(err)).Inc()
	if err != nil {
		e.logger.Debug("Selection on %s rejected: %v", id.Hex(), err)
		return models.Bid{}, err
	}
	e.updateStateGauge()
	e.logger.Info("Selected solver %s for %s at cost %s", bid.Solver.Hex(), id.Hex(), bid.ExecutionCost)
	return bid, nil
}

func (e *Engine) selectBid(ctx context.Context, id common.Hash) (models.Bid, error) {
	entry, err := e.lookup(id)
	if err != nil {
		return models.Bid{}, err
	}
	rec := entry.record
	if err := requireState(rec, models.StateOpen); err != nil {
		return models.Bid{}, err
	}
	if !e.now().After(rec.AuctionClosesAt) {
		return models.Bid{}, fmt.Errorf("%w: closes at %s", ErrAuctionStillOpen, rec.AuctionClosesAt.Format("15:04:05"))
	}
	if rec.BestBid == nil {
		return models.Bid{}, fmt.Errorf("%w: intent %s", ErrNoBids, id.Hex())
	}

	best := rec.BestBid.Clone()
	if err := e.record(ctx, oplog.KindBidSelected, id, oplog.BidSelected{
		Solver: best.Solver,
		Cost:   best.ExecutionCost,
		DstGas: best.DstGasBudget,
	}); err != nil {
		return models.Bid{}, err
	}

	if err := e.applySelected(rec, best.Solver, best.ExecutionCost, best.DstGasBudget); err != nil {
		panic(err)
	}
	e.emit(models.EventBidSelected, id, func(ev *models.Event) {
		ev.Solver = best.Solver
		ev.Amount = new(big.Int).Set(best.ExecutionCost)
	})
	return best, nil
}

func (e *Engine) applySelected(rec *models.IntentRecord, solver common.Address, cost *big.Int, dstGas uint64) error {
	if err := transition(rec, models.StateSelected); err != nil {
		return err
	}
	rec.SelectedSolver = solver
	rec.SelectedCost = new(big.Int).Set(cost)
	rec.SelectedDstGas = dstGas
	return nil
}
