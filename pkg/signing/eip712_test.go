package signing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(maker common.Address) models.IntentParams {
	return models.IntentParams{
		Maker:              maker,
		SourceNetwork:      8453,
		DestinationNetwork: 42161,
		SourceToken:        common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		Recipient:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TotalAmount:        big.NewInt(100),
		Nonce:              big.NewInt(1),
		ReferencePrice:     big.NewInt(250000000000),
		MaxDeviationBps:    50,
		Deadline:           1_900_000_000,
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := crypto.PubkeyToAddress(key.PublicKey)
	domain := NewDomain(8453, common.HexToAddress("0x999fce149FD078DCFaa2C681e060e00F528552f4"))

	params := testParams(maker)
	digest, err := domain.Digest(params)
	require.NoError(t, err)

	sig, err := Sign(key, digest)
	require.NoError(t, err)
	assert.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	t.Run("recovers maker", func(t *testing.T) {
		signer, err := Recover(digest, sig)
		require.NoError(t, err)
		assert.Equal(t, maker, signer)
	})

	t.Run("accepts raw recovery id", func(t *testing.T) {
		raw := append([]byte{}, sig...)
		raw[64] -= 27
		signer, err := Recover(digest, raw)
		require.NoError(t, err)
		assert.Equal(t, maker, signer)
	})

	t.Run("rejects short signature", func(t *testing.T) {
		_, err := Recover(digest, sig[:64])
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})

	t.Run("rejects bad recovery id", func(t *testing.T) {
		bad := append([]byte{}, sig...)
		bad[64] = 40
		_, err := Recover(digest, bad)
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})
}

func TestDigestBindsEveryField(t *testing.T) {
	maker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	domain := NewDomain(8453, common.HexToAddress("0x999fce149FD078DCFaa2C681e060e00F528552f4"))
	base, err := domain.Digest(testParams(maker))
	require.NoError(t, err)

	mutations := map[string]func(p *models.IntentParams){
		"maker":               func(p *models.IntentParams) { p.Maker = common.HexToAddress("0x3333333333333333333333333333333333333333") },
		"source network":      func(p *models.IntentParams) { p.SourceNetwork = 1 },
		"destination network": func(p *models.IntentParams) { p.DestinationNetwork = 1 },
		"token":               func(p *models.IntentParams) { p.SourceToken = common.Address{} },
		"recipient":           func(p *models.IntentParams) { p.Recipient = maker },
		"amount":              func(p *models.IntentParams) { p.TotalAmount = big.NewInt(101) },
		"nonce":               func(p *models.IntentParams) { p.Nonce = big.NewInt(2) },
		"reference price":     func(p *models.IntentParams) { p.ReferencePrice = big.NewInt(-250000000000) },
		"deviation":           func(p *models.IntentParams) { p.MaxDeviationBps = 51 },
		"deadline":            func(p *models.IntentParams) { p.Deadline++ },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			params := testParams(maker)
			mutate(&params)
			digest, err := domain.Digest(params)
			require.NoError(t, err)
			assert.NotEqual(t, base, digest)
		})
	}

	t.Run("domain", func(t *testing.T) {
		other := NewDomain(1, domain.VerifyingContract)
		digest, err := other.Digest(testParams(maker))
		require.NoError(t, err)
		assert.NotEqual(t, base, digest)

		other = NewDomain(8453, common.HexToAddress("0x4444444444444444444444444444444444444444"))
		digest, err = other.Digest(testParams(maker))
		require.NoError(t, err)
		assert.NotEqual(t, base, digest)
	})
}

func TestIntentIDIsStable(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("intent"))
	assert.Equal(t, IntentID(digest), IntentID(digest))
	assert.NotEqual(t, digest, IntentID(digest))
}
