package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/message"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oplog"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/riskguard"
	"github.com/speedrun-hq/speedrun-settlement/pkg/transport"
)

// FillReceipt describes a committed fill
type FillReceipt struct {
	IntentID     common.Hash
	MessageID    common.Hash
	Amount       *big.Int
	Fee          *big.Int
	FilledAmount *big.Int
	State        models.State
}

// pendingFill is a fill that passed every check and holds custody, waiting on dispatch
type pendingFill struct {
	entry       *intentEntry
	solver      common.Address
	maker       common.Address
	token       common.Address
	destination uint64
	amount      *big.Int
	fee         *big.Int
	msg         transport.Message
	seq         uint64
}

// ExecuteFull fills everything that remains on id
func (e *Engine) ExecuteFull(ctx context.Context, solver common.Address, id common.Hash) (*FillReceipt, error) {
	return e.fill(ctx, solver, id, nil, true)
}

// ExecutePartial fills amount of id
func (e *Engine) ExecutePartial(ctx context.Context, solver common.Address, id common.Hash, amount *big.Int) (*FillReceipt, error) {
	return e.fill(ctx, solver, id, amount, false)
}

func (e *Engine) fill(ctx context.Context, solver common.Address, id common.Hash, amount *big.Int, full bool) (*FillReceipt, error) {
	kind := "partial"
	if full {
		kind = "full"
	}
	start := time.Now()

	obs := e.observePrice(ctx)
	p, destination, err := e.prepareFill(ctx, solver, id, amount, full, obs)
	if err != nil {
		metrics.Fills.WithLabelValues(destination, kind, ErrorKind(err)).Inc()
		if errors.Is(err, ErrMissingOracle) || errors.Is(err, ErrOracleStale) || errors.Is(err, ErrOracleDeviation) {
			metrics.RiskRejections.WithLabelValues(ErrorKind(err)).Inc()
		}
		e.logger.Debug("Rejected %s fill on %s by %s: %v", kind, id.Hex(), solver.Hex(), err)
		return nil, err
	}

	messageID, sendErr := e.transport.Send(ctx, p.destination, p.msg, transport.TokenTransfer{
		Token:  p.token,
		Amount: new(big.Int).Set(p.amount),
	}, new(big.Int).Set(p.fee))

	receipt, err := e.finishFill(ctx, id, p, messageID, sendErr)
	metrics.Fills.WithLabelValues(destination, kind, ErrorKind(err)).Inc()
	metrics.FillDuration.WithLabelValues(destination).Observe(time.Since(start).Seconds())
	return receipt, err
}

// prepareFill runs every check and takes custody. On success the intent is
// marked in flight and the fee is reserved.
func (e *Engine) prepareFill(ctx context.Context, solver common.Address, id common.Hash, amount *big.Int, full bool, obs priceObservation) (*pendingFill, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.lookup(id)
	if err != nil {
		return nil, "", err
	}
	rec := entry.record
	destination := strconv.FormatUint(rec.Params.DestinationNetwork, 10)

	if entry.inFlight {
		return nil, destination, fmt.Errorf("%w: intent %s", ErrFillInProgress, id.Hex())
	}
	if entry.inDoubt != nil {
		return nil, destination, fmt.Errorf("%w: intent %s has an unresolved fill", ErrFillInProgress, id.Hex())
	}
	if err := requireState(rec, models.StateSelected); err != nil {
		return nil, destination, err
	}
	if solver != rec.SelectedSolver {
		return nil, destination, fmt.Errorf("%w: %s", ErrNotSelectedSolver, solver.Hex())
	}

	remaining := rec.Remaining()
	if full {
		amount = remaining
	} else {
		if amount == nil || amount.Sign() <= 0 {
			return nil, destination, ErrZeroAmount
		}
		if amount.Cmp(remaining) > 0 {
			return nil, destination, fmt.Errorf("%w: %s requested, %s remaining", ErrOverFill, amount, remaining)
		}
		amount = new(big.Int).Set(amount)
	}

	if err := e.checkRisk(rec, obs); err != nil {
		return nil, destination, err
	}

	msg, err := e.settlementMessage(rec, amount)
	if err != nil {
		return nil, destination, err
	}
	fee, err := e.transport.QuoteFee(ctx, rec.Params.DestinationNetwork, msg)
	if err != nil {
		return nil, destination, fmt.Errorf("failed to quote delivery fee: %w", err)
	}
	available := new(big.Int).Sub(e.custody.BalanceOf(e.cfg.FeeToken, e.cfg.Address), e.reservedFees)
	if available.Cmp(fee) < 0 {
		return nil, destination, fmt.Errorf("%w: %s available, %s required", ErrInsufficientFeeReserve, available, fee)
	}

	p := &pendingFill{
		entry:       entry,
		solver:      solver,
		maker:       rec.Params.Maker,
		token:       rec.Params.SourceToken,
		destination: rec.Params.DestinationNetwork,
		amount:      amount,
		fee:         fee,
		msg:         msg,
	}
	if err := e.custody.TransferFrom(p.token, e.cfg.Address, p.maker, e.cfg.Address, amount); err != nil {
		return nil, destination, fmt.Errorf("failed to take custody from %s: %w", p.maker.Hex(), err)
	}
	seq, err := e.recordSeq(ctx, oplog.KindFillDispatching, id, oplog.Fill{Solver: solver, Amount: amount, Fee: fee})
	if err != nil {
		e.mustSettle("refund after journal failure", e.returnToMaker(p))
		return nil, destination, err
	}
	p.seq = seq

	entry.inFlight = true
	e.reservedFees.Add(e.reservedFees, fee)
	metrics.FeesReserved.Set(bigFloat(e.reservedFees))
	return p, destination, nil
}

// finishFill commits or rolls back a dispatched fill. Custody steps after a
// successful dispatch may not fail; a failure there panics. A commit that
// cannot be journaled leaves the fill in doubt, exactly as a restore would.
func (e *Engine) finishFill(ctx context.Context, id common.Hash, p *pendingFill, messageID common.Hash, sendErr error) (*FillReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// the dispatch outcome must be journaled even if the caller gave up
	ctx = context.WithoutCancel(ctx)
	entry := p.entry
	rec := entry.record
	entry.inFlight = false
	e.reservedFees.Sub(e.reservedFees, p.fee)
	metrics.FeesReserved.Set(bigFloat(e.reservedFees))

	if sendErr != nil {
		e.mustSettle("refund after failed dispatch", e.returnToMaker(p))
		if err := e.record(ctx, oplog.KindFillAborted, id, oplog.Fill{
			Solver: p.solver,
			Amount: p.amount,
			Fee:    p.fee,
			Reason: sendErr.Error(),
		}); err != nil {
			e.logger.Error("Failed to journal aborted fill on %s: %v", id.Hex(), err)
		}
		metrics.DispatchFailures.WithLabelValues(strconv.FormatUint(p.destination, 10)).Inc()
		e.logger.ErrorWithNetwork(p.destination, "Dispatch of %s for %s failed, fill rolled back: %v", p.amount, id.Hex(), sendErr)
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, sendErr)
	}

	bridge := e.transport.Address()
	e.mustSettle("forward bridged amount", e.custody.Transfer(p.token, e.cfg.Address, bridge, p.amount))
	if p.fee.Sign() > 0 {
		e.mustSettle("pay delivery fee", e.custody.Transfer(e.cfg.FeeToken, e.cfg.Address, bridge, p.fee))
	}

	if err := e.record(ctx, oplog.KindFillCommitted, id, oplog.Fill{
		Solver:    p.solver,
		Amount:    p.amount,
		Fee:       p.fee,
		MessageID: messageID,
	}); err != nil {
		entry.inDoubt = &InDoubtFill{
			Seq:        p.seq,
			IntentID:   id,
			Solver:     p.solver,
			Amount:     new(big.Int).Set(p.amount),
			Fee:        new(big.Int).Set(p.fee),
			MessageID:  messageID,
			RecordedAt: e.now(),
		}
		e.logger.ErrorWithNetwork(p.destination, "Message %s for %s sent but not journaled, fill awaits resolution: %v",
			messageID.Hex(), id.Hex(), err)
		return nil, fmt.Errorf("%w: message %s: %v", ErrFillInDoubt, messageID.Hex(), err)
	}
	e.mustSettle("apply fill", e.applyFilled(rec, p.amount))

	e.emit(models.EventIntentFilled, id, func(ev *models.Event) {
		ev.Solver = p.solver
		ev.Amount = new(big.Int).Set(p.amount)
		ev.MessageID = messageID
	})
	if rec.State == models.StateExecuted {
		e.emit(models.EventIntentExecuted, id, nil)
	}
	e.updateStateGauge()
	e.logger.InfoWithNetwork(p.destination, "Filled %s of %s (%s/%s), message %s",
		p.amount, id.Hex(), rec.FilledAmount, rec.Params.TotalAmount, messageID.Hex())

	return &FillReceipt{
		IntentID:     id,
		MessageID:    messageID,
		Amount:       new(big.Int).Set(p.amount),
		Fee:          new(big.Int).Set(p.fee),
		FilledAmount: new(big.Int).Set(rec.FilledAmount),
		State:        rec.State,
	}, nil
}

// applyFilled adds amount to the filled total and executes the intent once
// it is complete. Shared with replay.
func (e *Engine) applyFilled(rec *models.IntentRecord, amount *big.Int) error {
	filled := new(big.Int).Add(rec.FilledAmount, amount)
	if filled.Cmp(rec.Params.TotalAmount) > 0 {
		return fmt.Errorf("%w: filled %s exceeds total %s", ErrOverFill, filled, rec.Params.TotalAmount)
	}
	rec.FilledAmount = filled
	if filled.Cmp(rec.Params.TotalAmount) == 0 {
		return transition(rec, models.StateExecuted)
	}
	return nil
}

func (e *Engine) returnToMaker(p *pendingFill) error {
	if err := e.custody.Transfer(p.token, e.cfg.Address, p.maker, p.amount); err != nil {
		return err
	}
	return e.custody.IncreaseAllowance(p.token, p.maker, e.cfg.Address, p.amount)
}

func (e *Engine) mustSettle(step string, err error) {
	if err != nil {
		panic(fmt.Sprintf("settlement: %s: %v", step, err))
	}
}

// priceObservation is a feed reading taken without holding the engine lock
type priceObservation struct {
	feed    oracle.Feed
	reading *oracle.Reading
	err     error
}

// observePrice reads the active feed. The read may be a network round trip,
// so it runs outside e.mu.
func (e *Engine) observePrice(ctx context.Context) priceObservation {
	e.mu.Lock()
	feed := e.feed
	e.mu.Unlock()

	obs := priceObservation{feed: feed}
	if feed == nil {
		return obs
	}
	r, err := feed.LatestReading(ctx)
	if err != nil {
		obs.err = err
		return obs
	}
	obs.reading = &r
	return obs
}

// checkRisk evaluates the price guard against obs. Callers hold e.mu.
func (e *Engine) checkRisk(rec *models.IntentRecord, obs priceObservation) error {
	if obs.feed != e.feed {
		return fmt.Errorf("%w: feed replaced while reading", ErrOracleStale)
	}
	if obs.err != nil {
		return fmt.Errorf("%w: feed %s unavailable: %v", ErrOracleStale, obs.feed.ID(), obs.err)
	}
	policy := riskguard.Policy{
		DefaultDeviationBps: e.oracleCfg.DefaultDeviationBps,
		MaxStalenessSeconds: e.oracleCfg.MaxStalenessSeconds,
	}
	return riskguard.Check(obs.reading, rec.Params.ReferencePrice, rec.Params.MaxDeviationBps, policy, e.now())
}

func (e *Engine) settlementMessage(rec *models.IntentRecord, amount *big.Int) (transport.Message, error) {
	payload, err := message.Encode(message.Settlement{
		IntentID:  rec.ID,
		Amount:    amount,
		Recipient: rec.Params.Recipient,
	})
	if err != nil {
		return transport.Message{}, err
	}
	gas := rec.SelectedDstGas
	if gas == 0 {
		gas = e.cfg.DefaultDestinationGas
	}
	return transport.Message{Sender: e.cfg.Address, Payload: payload, GasLimit: gas}, nil
}

// QuoteFee returns the delivery fee a fill of amount on id would pay now
func (e *Engine) QuoteFee(ctx context.Context, id common.Hash, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	e.mu.Lock()
	entry, err := e.lookup(id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	destination := entry.record.Params.DestinationNetwork
	msg, err := e.settlementMessage(entry.record, amount)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.transport.QuoteFee(ctx, destination, msg)
}

func bigFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
