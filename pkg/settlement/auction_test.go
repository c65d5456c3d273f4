package settlement

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

func TestLowestBidWins(t *testing.T) {
	h := newHarness(t)
	id := h.register(h.params())

	require.NoError(t, h.engine.SubmitBid(h.ctx, solverA, id, big.NewInt(3), 200_000))
	require.NoError(t, h.engine.SubmitBid(h.ctx, solverB, id, big.NewInt(1), 150_000))

	rec := h.record(id)
	require.NotNil(t, rec.BestBid)
	assert.Equal(t, solverB, rec.BestBid.Solver)

	h.clock.Advance(models.AuctionWindow + time.Second)
	bid, err := h.engine.SelectBid(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, solverB, bid.Solver)
	assert.Equal(t, int64(1), bid.ExecutionCost.Int64())

	rec = h.record(id)
	assert.Equal(t, models.StateSelected, rec.State)
	assert.Equal(t, solverB, rec.SelectedSolver)
	assert.Equal(t, int64(1), rec.SelectedCost.Int64())
	assert.Equal(t, uint64(150_000), rec.SelectedDstGas)

	bids, err := h.engine.Bids(id)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, solverA, bids[0].Solver)

	selected := h.events.OfType(models.EventBidSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, solverB, selected[0].Solver)
}

func TestTieKeepsEarlierBid(t *testing.T) {
	h := newHarness(t)
	id := h.register(h.params())

	require.NoError(t, h.engine.SubmitBid(h.ctx, solverA, id, big.NewInt(2), 100_000))
	h.clock.Advance(time.Second)
	require.NoError(t, h.engine.SubmitBid(h.ctx, solverB, id, big.NewInt(2), 1))

	h.clock.Advance(models.AuctionWindow)
	bid, err := h.engine.SelectBid(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, solverA, bid.Solver)
}

func TestSubmitBidRejections(t *testing.T) {
	unknown := common.HexToHash("0xdead")

	tests := []struct {
		name    string
		setup   func(h *harness, id common.Hash)
		intent  func(id common.Hash) common.Hash
		solver  common.Address
		cost    *big.Int
		wantErr error
	}{
		{
			name:    "unknown intent",
			intent:  func(common.Hash) common.Hash { return unknown },
			solver:  solverA,
			cost:    big.NewInt(1),
			wantErr: ErrIntentNotFound,
		},
		{
			name: "duplicate",
			setup: func(h *harness, id common.Hash) {
				require.NoError(t, h.engine.SubmitBid(h.ctx, solverA, id, big.NewInt(5), 0))
			},
			solver:  solverA,
			cost:    big.NewInt(1),
			wantErr: ErrDuplicateBid,
		},
		{
			name: "after window",
			setup: func(h *harness, id common.Hash) {
				h.clock.Advance(models.AuctionWindow + time.Second)
			},
			solver:  solverA,
			cost:    big.NewInt(1),
			wantErr: ErrAuctionNotOpen,
		},
		{
			name: "after selection",
			setup: func(h *harness, id common.Hash) {
				require.NoError(t, h.engine.SubmitBid(h.ctx, solverA, id, big.NewInt(5), 0))
				h.clock.Advance(models.AuctionWindow + time.Second)
				_, err := h.engine.SelectBid(h.ctx, id)
				require.NoError(t, err)
			},
			solver:  solverB,
			cost:    big.NewInt(1),
			wantErr: ErrWrongState,
		},
		{
			name:    "negative cost",
			solver:  solverA,
			cost:    big.NewInt(-1),
			wantErr: ErrInvalidBid,
		},
		{
			name:    "nil cost",
			solver:  solverA,
			wantErr: ErrInvalidBid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.register(h.params())
			if tt.setup != nil {
				tt.setup(h, id)
			}
			target := id
			if tt.intent != nil {
				target = tt.intent(id)
			}
			err := h.engine.SubmitBid(h.ctx, tt.solver, target, tt.cost, 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBidAtWindowBoundary(t *testing.T) {
	h := newHarness(t)
	id := h.register(h.params())

	h.clock.Advance(models.AuctionWindow)
	require.NoError(t, h.engine.SubmitBid(h.ctx, solverA, id, big.NewInt(1), 0), "close time is inclusive for bids")

	_, err := h.engine.SelectBid(h.ctx, id)
	assert.ErrorIs(t, err, ErrAuctionStillOpen, "selection needs now > close")

	h.clock.Advance(time.Nanosecond)
	_, err = h.engine.SelectBid(h.ctx, id)
	assert.NoError(t, err)
}

func TestBidAfterDeadline(t *testing.T) {
	h := newHarness(t)
	p := h.params()
	p.Deadline = uint64(h.clock.Now().Add(30 * time.Second).Unix())
	id := h.register(p)

	h.clock.Advance(30 * time.Second)
	err := h.engine.SubmitBid(h.ctx, solverA, id, big.NewInt(1), 0)
	assert.ErrorIs(t, err, ErrIntentExpired)
}

func TestSelectBidRejections(t *testing.T) {
	t.Run("still open", func(t *testing.T) {
		h := newHarness(t)
		id := h.register(h.params())
		require.NoError(t, h.engine.SubmitBid(h.ctx, solverA, id, big.NewInt(1), 0))
		_, err := h.engine.SelectBid(h.ctx, id)
		assert.ErrorIs(t, err, ErrAuctionStillOpen)
	})

	t.Run("no bids", func(t *testing.T) {
		h := newHarness(t)
		id := h.register(h.params())
		h.clock.Advance(models.AuctionWindow + time.Second)
		_, err := h.engine.SelectBid(h.ctx, id)
		assert.ErrorIs(t, err, ErrNoBids)
		assert.Equal(t, models.StateOpen, h.record(id).State)
	})

	t.Run("selected twice", func(t *testing.T) {
		h := newHarness(t)
		id := h.selected()
		_, err := h.engine.SelectBid(h.ctx, id)
		assert.ErrorIs(t, err, ErrWrongState)
	})

	t.Run("unknown intent", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.SelectBid(h.ctx, common.HexToHash("0xdead"))
		assert.ErrorIs(t, err, ErrIntentNotFound)
	})
}
