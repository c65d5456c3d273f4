package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/speedrun-hq/speedrun-settlement/pkg/contracts"
)

// ChainlinkFeed reads an AggregatorV3 price feed over JSON-RPC
type ChainlinkFeed struct {
	address common.Address
	caller  *contracts.AggregatorV3Caller

	mu       sync.Mutex
	decimals *uint8
}

// DialChainlinkFeed connects to the RPC endpoint and binds the aggregator
func DialChainlinkFeed(ctx context.Context, rpcURL string, address common.Address) (*ChainlinkFeed, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to oracle RPC: %v", err)
	}
	return NewChainlinkFeed(address, client)
}

// NewChainlinkFeed binds an aggregator using an existing contract caller
func NewChainlinkFeed(address common.Address, backend bind.ContractCaller) (*ChainlinkFeed, error) {
	caller, err := contracts.NewAggregatorV3Caller(address, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to bind aggregator %s: %v", address.Hex(), err)
	}
	return &ChainlinkFeed{address: address, caller: caller}, nil
}

// ID implements Feed
func (f *ChainlinkFeed) ID() string {
	return "chainlink:" + f.address.Hex()
}

// LatestReading implements Feed. The answer is rescaled to PriceDecimals.
func (f *ChainlinkFeed) LatestReading(ctx context.Context) (Reading, error) {
	decimals, err := f.feedDecimals(ctx)
	if err != nil {
		return Reading{}, err
	}

	round, err := f.caller.LatestRoundData(&bind.CallOpts{Context: ctx})
	if err != nil {
		return Reading{}, fmt.Errorf("failed to read latest round: %v", err)
	}

	reading := Reading{Price: Scale(round.Answer, decimals)}
	if round.UpdatedAt != nil && round.UpdatedAt.Sign() > 0 && round.UpdatedAt.IsInt64() {
		reading.UpdatedAt = time.Unix(round.UpdatedAt.Int64(), 0)
	}
	return reading, nil
}

func (f *ChainlinkFeed) feedDecimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}
	d, err := f.caller.Decimals(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("failed to read feed decimals: %v", err)
	}
	f.decimals = &d
	return d, nil
}

// Description returns the aggregator's human readable pair name
func (f *ChainlinkFeed) Description(ctx context.Context) (string, error) {
	return f.caller.Description(&bind.CallOpts{Context: ctx})
}
