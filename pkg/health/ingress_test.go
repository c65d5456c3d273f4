package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-settlement/pkg/custody"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settlement"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signing"
	"github.com/speedrun-hq/speedrun-settlement/pkg/transport"
)

const apiKey = "secret"

var (
	goldToken   = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	engineAddr  = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	gatewayAddr = common.HexToAddress("0x00000000000000000000000000000000000e0002")
	solverAddr  = common.HexToAddress("0x00000000000000000000000000000000000f0001")
)

func post(t *testing.T, s *Server, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestIngressAuth(t *testing.T) {
	body := `{"params":{},"signature":"0x00"}`

	t.Run("closed without a key", func(t *testing.T) {
		engine := &fakeEngine{}
		s := NewServer("0", "", engine, nil, &logger.EmptyLogger{})
		assert.Equal(t, http.StatusForbidden, post(t, s, "/intents", "", body).Code)
		assert.Equal(t, http.StatusForbidden, post(t, s, "/intents/"+knownID.Hex()+"/bids", "", `{}`).Code)
		assert.Empty(t, engine.registered)
	})

	t.Run("rejects missing or wrong key", func(t *testing.T) {
		engine := &fakeEngine{}
		s := NewServer("0", apiKey, engine, nil, &logger.EmptyLogger{})
		assert.Equal(t, http.StatusUnauthorized, post(t, s, "/intents", "", body).Code)
		assert.Equal(t, http.StatusUnauthorized, post(t, s, "/intents", "wrong", body).Code)
		assert.Empty(t, engine.registered)
	})
}

func TestRegisterIntentRoute(t *testing.T) {
	engine := &fakeEngine{}
	s := NewServer("0", apiKey, engine, nil, &logger.EmptyLogger{})

	body := `{"params":{"maker":"0x00000000000000000000000000000000000b0001","source_network":1,` +
		`"destination_network":8453,"source_token":"0x00000000000000000000000000000000000a0001",` +
		`"recipient":"0x00000000000000000000000000000000000b0002","total_amount":100,"nonce":7,` +
		`"reference_price":250000000000,"max_deviation_bps":0,"deadline":1700003600},"signature":"0xdeadbeef"}`
	rec := post(t, s, "/intents", apiKey, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got struct {
		ID common.Hash `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, knownID, got.ID)

	require.Len(t, engine.registered, 1)
	assert.Equal(t, int64(100), engine.registered[0].TotalAmount.Int64())
	assert.Equal(t, uint64(8453), engine.registered[0].DestinationNetwork)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, engine.signatures[0])
}

func TestIngressErrors(t *testing.T) {
	bid := `{"solver":"0x00000000000000000000000000000000000f0001","execution_cost":5,"dst_gas_budget":100000}`

	tests := []struct {
		name     string
		err      error
		path     string
		body     string
		wantCode int
		wantKind string
	}{
		{"malformed json", nil, "/intents", `{"params":`, http.StatusBadRequest, ""},
		{"unknown field", nil, "/intents", `{"params":{},"extra":1}`, http.StatusBadRequest, ""},
		{"bad signature", fmt.Errorf("%w: signed by 0x01", settlement.ErrInvalidSignature), "/intents", `{"params":{}}`, http.StatusBadRequest, "invalid_signature"},
		{"nonce reused", settlement.ErrNonceAlreadyUsed, "/intents", `{"params":{}}`, http.StatusConflict, "nonce_already_used"},
		{"journal down", errors.New("disk full"), "/intents", `{"params":{}}`, http.StatusInternalServerError, "internal"},
		{"bad intent id", nil, "/intents/0x1234/bids", bid, http.StatusBadRequest, ""},
		{"unknown intent", nil, "/intents/" + common.HexToHash("0x01").Hex() + "/bids", bid, http.StatusNotFound, "intent_not_found"},
		{"duplicate bid", settlement.ErrDuplicateBid, "/intents/" + knownID.Hex() + "/bids", bid, http.StatusConflict, "duplicate_bid"},
		{"auction closed", settlement.ErrAuctionNotOpen, "/intents/" + knownID.Hex() + "/bids", bid, http.StatusConflict, "auction_not_open"},
		{"invalid bid", settlement.ErrInvalidBid, "/intents/" + knownID.Hex() + "/bids", bid, http.StatusBadRequest, "invalid_bid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("0", apiKey, &fakeEngine{err: tt.err}, nil, &logger.EmptyLogger{})
			rec := post(t, s, tt.path, apiKey, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantKind != "" {
				var body errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantKind, body.Kind)
			}
		})
	}
}

func TestSubmitBidRoute(t *testing.T) {
	engine := &fakeEngine{}
	s := NewServer("0", apiKey, engine, nil, &logger.EmptyLogger{})

	rec := post(t, s, "/intents/"+knownID.Hex()+"/bids", apiKey,
		`{"solver":"0x00000000000000000000000000000000000f0001","execution_cost":5,"dst_gas_budget":100000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, engine.bids, 1)
	assert.Equal(t, solverAddr, engine.bids[0].Solver)
	assert.Equal(t, int64(5), engine.bids[0].ExecutionCost.Int64())
	assert.Equal(t, uint64(100000), engine.bids[0].DstGasBudget)
}

func TestDepositRoute(t *testing.T) {
	maker := common.HexToAddress("0x00000000000000000000000000000000000b0001")

	t.Run("funds and approves", func(t *testing.T) {
		ledger := custody.NewLedger()
		s := NewServer("0", apiKey, &fakeEngine{}, nil, &logger.EmptyLogger{}, WithCustody(ledger, engineAddr))

		body := mustJSON(t, depositRequest{Token: goldToken, Account: maker, Amount: big.NewInt(250)})
		rec := post(t, s, "/custody/deposits", apiKey, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got map[string]*big.Int
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, int64(250), got["balance"].Int64())
		assert.Equal(t, int64(250), got["allowance"].Int64())
		assert.Equal(t, int64(250), ledger.Allowance(goldToken, maker, engineAddr).Int64())
	})

	t.Run("rejections", func(t *testing.T) {
		ledger := custody.NewLedger()
		s := NewServer("0", apiKey, &fakeEngine{}, nil, &logger.EmptyLogger{}, WithCustody(ledger, engineAddr))

		zero := mustJSON(t, depositRequest{Token: goldToken, Account: maker, Amount: big.NewInt(0)})
		assert.Equal(t, http.StatusBadRequest, post(t, s, "/custody/deposits", apiKey, zero).Code)
		noAccount := mustJSON(t, depositRequest{Token: goldToken, Amount: big.NewInt(1)})
		assert.Equal(t, http.StatusBadRequest, post(t, s, "/custody/deposits", apiKey, noAccount).Code)
		assert.Equal(t, int64(0), ledger.BalanceOf(goldToken, maker).Int64())
	})

	t.Run("disabled without custody", func(t *testing.T) {
		s := NewServer("0", apiKey, &fakeEngine{}, nil, &logger.EmptyLogger{})
		body := mustJSON(t, depositRequest{Token: goldToken, Account: maker, Amount: big.NewInt(1)})
		assert.Equal(t, http.StatusNotFound, post(t, s, "/custody/deposits", apiKey, body).Code)
	})
}

// TestIngressDrivesEngine funds a maker, registers a signed intent and bids
// on it through HTTP against a real engine
func TestIngressDrivesEngine(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := crypto.PubkeyToAddress(key.PublicKey)

	ledger := custody.NewLedger()
	loop := transport.NewLoopback(transport.LoopbackConfig{
		Address:       gatewayAddr,
		OriginNetwork: 1,
		BaseFee:       big.NewInt(1000),
		FeePerGas:     big.NewInt(1),
	}, &logger.EmptyLogger{})
	engine := settlement.New(settlement.Config{
		NetworkID:             1,
		Address:               engineAddr,
		FeeToken:              custody.NativeToken,
		DefaultDestinationGas: 300_000,
	}, ledger, loop)
	s := NewServer("0", apiKey, engine, nil, &logger.EmptyLogger{}, WithCustody(ledger, engineAddr))

	rec := post(t, s, "/custody/deposits", apiKey, mustJSON(t, depositRequest{Token: goldToken, Account: maker, Amount: big.NewInt(100)}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	params := models.IntentParams{
		Maker:              maker,
		SourceNetwork:      1,
		DestinationNetwork: 8453,
		SourceToken:        goldToken,
		Recipient:          common.HexToAddress("0x00000000000000000000000000000000000b0002"),
		TotalAmount:        big.NewInt(100),
		Nonce:              big.NewInt(1),
		ReferencePrice:     big.NewInt(250000000000),
		Deadline:           uint64(time.Now().Add(time.Hour).Unix()),
	}
	sig, err := signing.SignIntent(key, engine.Domain(), params)
	require.NoError(t, err)

	rec = post(t, s, "/intents", apiKey, mustJSON(t, registerRequest{Params: params, Signature: hexutil.Bytes(sig)}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID common.Hash `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// replaying the same signed intent is a conflict
	rec = post(t, s, "/intents", apiKey, mustJSON(t, registerRequest{Params: params, Signature: hexutil.Bytes(sig)}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	bid := mustJSON(t, bidRequest{Solver: solverAddr, ExecutionCost: big.NewInt(5), DstGasBudget: 150_000})
	rec = post(t, s, "/intents/"+created.ID.Hex()+"/bids", apiKey, bid)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, post(t, s, "/intents/"+created.ID.Hex()+"/bids", apiKey, bid).Code)

	record, err := engine.Intent(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, record.State)
	require.NotNil(t, record.BestBid)
	assert.Equal(t, solverAddr, record.BestBid.Solver)
}
