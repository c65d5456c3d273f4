package message

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	s := Settlement{
		IntentID:  common.HexToHash("0xabc123"),
		Amount:    big.NewInt(50),
		Recipient: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}

	data, err := Encode(s)
	require.NoError(t, err)
	assert.Len(t, data, 96, "three static words")

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, s.IntentID, decoded.IntentID)
	assert.Equal(t, 0, s.Amount.Cmp(decoded.Amount))
	assert.Equal(t, s.Recipient, decoded.Recipient)
}

func TestEncodeRejectsInvalidAmount(t *testing.T) {
	_, err := Encode(Settlement{Amount: nil})
	assert.Error(t, err)

	_, err = Encode(Settlement{Amount: big.NewInt(-1)})
	assert.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated", data: make([]byte, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
