// Package signing implements the EIP-712 structured-data scheme makers use to sign intents.
package signing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

const (
	// ProtocolName is the EIP-712 domain name
	ProtocolName = "SpeedrunSettlement"
	// ProtocolVersion is the EIP-712 domain version
	ProtocolVersion = "1"

	intentPrimaryType = "Intent"
)

// ErrMalformedSignature is returned when a signature cannot be parsed or recovered
var ErrMalformedSignature = errors.New("malformed signature")

var intentTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	intentPrimaryType: {
		{Name: "maker", Type: "address"},
		{Name: "sourceNetwork", Type: "uint256"},
		{Name: "destinationNetwork", Type: "uint256"},
		{Name: "sourceToken", Type: "address"},
		{Name: "recipient", Type: "address"},
		{Name: "totalAmount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "referencePrice", Type: "int256"},
		{Name: "maxDeviationBps", Type: "uint32"},
		{Name: "deadline", Type: "uint64"},
	},
}

// Domain binds signatures to one engine instance on one network
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// NewDomain returns the protocol domain for the given network and engine address
func NewDomain(chainID uint64, engine common.Address) Domain {
	return Domain{
		Name:              ProtocolName,
		Version:           ProtocolVersion,
		ChainID:           chainID,
		VerifyingContract: engine,
	}
}

// Digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(intent))
func (d Domain) Digest(params models.IntentParams) (common.Hash, error) {
	typedData := d.typedData(params)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(intentPrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash intent: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256Hash(raw), nil
}

func (d Domain) typedData(p models.IntentParams) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       intentTypes,
		PrimaryType: intentPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":              p.Maker.Hex(),
			"sourceNetwork":      strconv.FormatUint(p.SourceNetwork, 10),
			"destinationNetwork": strconv.FormatUint(p.DestinationNetwork, 10),
			"sourceToken":        p.SourceToken.Hex(),
			"recipient":          p.Recipient.Hex(),
			"totalAmount":        decimal(p.TotalAmount),
			"nonce":              decimal(p.Nonce),
			"referencePrice":     decimal(p.ReferencePrice),
			"maxDeviationBps":    strconv.FormatUint(uint64(p.MaxDeviationBps), 10),
			"deadline":           strconv.FormatUint(p.Deadline, 10),
		},
	}
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// IntentID derives the stable intent identifier from a signing digest
func IntentID(digest common.Hash) common.Hash {
	return crypto.Keccak256Hash(digest.Bytes())
}

// Sign produces a 65-byte [R || S || V] signature with V in {27, 28}
func Sign(key *ecdsa.PrivateKey, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignIntent computes the digest of params under the domain and signs it
func SignIntent(key *ecdsa.PrivateKey, domain Domain, params models.IntentParams) ([]byte, error) {
	digest, err := domain.Digest(params)
	if err != nil {
		return nil, err
	}
	return Sign(key, digest)
}

// Recover returns the address that produced sig over digest.
// Both V conventions (0/1 and 27/28) are accepted; high-S signatures are rejected.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[crypto.RecoveryIDOffset], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: invalid signature values", ErrMalformedSignature)
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
