package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oplog"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signing"
)

// Register authenticates a maker-signed intent and opens its auction.
// The returned id is derived from the signing digest.
func (e *Engine) Register(ctx context.Context, params models.IntentParams, signature []byte) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.register(ctx, params, signature)
	metrics.IntentsRegistered.WithLabelValues(strconv.FormatUint(e.cfg.NetworkID, 10), ErrorKind(err)).Inc()
	if err != nil {
		e.logger.DebugWithNetwork(e.cfg.NetworkID, "Rejected intent from %s: %v", params.Maker.Hex(), err)
		return common.Hash{}, err
	}
	e.updateStateGauge()
	e.logger.InfoWithNetwork(e.cfg.NetworkID, "Registered intent %s from %s for %s to network %d",
		id.Hex(), params.Maker.Hex(), params.TotalAmount, params.DestinationNetwork)
	return id, nil
}

func (e *Engine) register(ctx context.Context, params models.IntentParams, signature []byte) (common.Hash, error) {
	if err := e.validateParams(params); err != nil {
		return common.Hash{}, err
	}

	now := e.now()
	if deadlinePassed(now, params.Deadline) {
		return common.Hash{}, fmt.Errorf("%w: deadline %d", ErrIntentExpired, params.Deadline)
	}

	digest, err := e.domain.Digest(params)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidIntentParams, err)
	}
	signer, err := signing.Recover(digest, signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != params.Maker {
		return common.Hash{}, fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer.Hex())
	}

	key := nonceKey{maker: params.Maker, nonce: params.Nonce.String()}
	id := signing.IntentID(digest)
	if _, used := e.nonces[key]; used {
		return common.Hash{}, fmt.Errorf("%w: maker %s nonce %s", ErrNonceAlreadyUsed, params.Maker.Hex(), params.Nonce)
	}
	if _, exists := e.intents[id]; exists {
		return common.Hash{}, fmt.Errorf("%w: intent %s", ErrNonceAlreadyUsed, id.Hex())
	}

	closesAt := now.Add(models.AuctionWindow)
	if err := e.record(ctx, oplog.KindIntentRegistered, id, oplog.IntentRegistered{
		Params:          params,
		CreatedAt:       now,
		AuctionClosesAt: closesAt,
	}); err != nil {
		return common.Hash{}, err
	}

	e.applyRegistered(id, params.Clone(), now)
	e.emit(models.EventIntentCreated, id, func(ev *models.Event) {
		ev.Amount = new(big.Int).Set(params.TotalAmount)
	})
	e.emit(models.EventAuctionOpened, id, nil)
	return id, nil
}

func (e *Engine) validateParams(p models.IntentParams) error {
	switch {
	case p.Maker == (common.Address{}):
		return fmt.Errorf("%w: empty maker", ErrInvalidIntentParams)
	case p.SourceNetwork != e.cfg.NetworkID:
		return fmt.Errorf("%w: source network %d, engine serves %d", ErrInvalidIntentParams, p.SourceNetwork, e.cfg.NetworkID)
	case p.TotalAmount == nil || p.TotalAmount.Sign() <= 0:
		return fmt.Errorf("%w: total amount must be positive", ErrInvalidIntentParams)
	case p.Recipient == (common.Address{}):
		return fmt.Errorf("%w: empty recipient", ErrInvalidIntentParams)
	case p.SourceToken == e.cfg.FeeToken:
		// custody of the fee asset would mix with the fee reserve
		return fmt.Errorf("%w: source token %s is the fee asset", ErrInvalidIntentParams, p.SourceToken.Hex())
	case p.Nonce == nil || p.Nonce.Sign() < 0:
		return fmt.Errorf("%w: missing nonce", ErrInvalidIntentParams)
	case p.ReferencePrice == nil:
		return fmt.Errorf("%w: missing reference price", ErrInvalidIntentParams)
	}
	return nil
}

// applyRegistered creates the OPEN record. Shared with replay.
func (e *Engine) applyRegistered(id common.Hash, params models.IntentParams, at time.Time) *intentEntry {
	rec := &models.IntentRecord{
		ID:              id,
		Params:          params,
		CreatedAt:       at,
		AuctionOpenedAt: at,
		AuctionClosesAt: at.Add(models.AuctionWindow),
		FilledAmount:    new(big.Int),
	}
	if err := transition(rec, models.StateOpen); err != nil {
		panic(err)
	}
	entry := &intentEntry{record: rec, bidders: make(map[common.Address]struct{})}
	e.intents[id] = entry
	e.order = append(e.order, id)
	e.nonces[nonceKey{maker: params.Maker, nonce: params.Nonce.String()}] = struct{}{}
	return entry
}

func deadlinePassed(now time.Time, deadline uint64) bool {
	return now.Unix() >= 0 && uint64(now.Unix()) >= deadline
}
