package contracts

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// AggregatorV3ABI is the read-only subset of the Chainlink AggregatorV3Interface
const AggregatorV3ABI = `[
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [
			{
				"internalType": "uint8",
				"name": "",
				"type": "uint8"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "description",
		"outputs": [
			{
				"internalType": "string",
				"name": "",
				"type": "string"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{
				"internalType": "uint80",
				"name": "roundId",
				"type": "uint80"
			},
			{
				"internalType": "int256",
				"name": "answer",
				"type": "int256"
			},
			{
				"internalType": "uint256",
				"name": "startedAt",
				"type": "uint256"
			},
			{
				"internalType": "uint256",
				"name": "updatedAt",
				"type": "uint256"
			},
			{
				"internalType": "uint80",
				"name": "answeredInRound",
				"type": "uint80"
			}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// AggregatorV3Caller is a read-only Go binding around a price aggregator contract.
type AggregatorV3Caller struct {
	contract *bind.BoundContract
}

// RoundData is the unpacked result of latestRoundData.
type RoundData struct {
	RoundId         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// NewAggregatorV3Caller creates a read-only instance bound to a deployed aggregator.
func NewAggregatorV3Caller(address common.Address, caller bind.ContractCaller) (*AggregatorV3Caller, error) {
	parsed, err := abi.JSON(strings.NewReader(AggregatorV3ABI))
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(address, parsed, caller, nil, nil)
	return &AggregatorV3Caller{contract: contract}, nil
}

// Decimals is a free data retrieval call binding the contract method 0x313ce567.
//
// Solidity: function decimals() view returns(uint8)
func (_Aggregator *AggregatorV3Caller) Decimals(opts *bind.CallOpts) (uint8, error) {
	var out []interface{}
	if err := _Aggregator.contract.Call(opts, &out, "decimals"); err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, errors.New("unexpected decimals output")
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// Description is a free data retrieval call binding the contract method 0x7284e416.
//
// Solidity: function description() view returns(string)
func (_Aggregator *AggregatorV3Caller) Description(opts *bind.CallOpts) (string, error) {
	var out []interface{}
	if err := _Aggregator.contract.Call(opts, &out, "description"); err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", errors.New("unexpected description output")
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// LatestRoundData is a free data retrieval call binding the contract method 0xfeaf968c.
//
// Solidity: function latestRoundData() view returns(uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
func (_Aggregator *AggregatorV3Caller) LatestRoundData(opts *bind.CallOpts) (RoundData, error) {
	var out []interface{}
	if err := _Aggregator.contract.Call(opts, &out, "latestRoundData"); err != nil {
		return RoundData{}, err
	}
	if len(out) != 5 {
		return RoundData{}, errors.New("unexpected latestRoundData output")
	}
	return RoundData{
		RoundId:         *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Answer:          *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		StartedAt:       *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		UpdatedAt:       *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		AnsweredInRound: *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
	}, nil
}
