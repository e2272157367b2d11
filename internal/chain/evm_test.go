package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x5FC8d32690cc91D4c39d9d3abcBD16989F875707"

var (
	testBuyer  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSeller = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeBackend struct {
	mu         sync.Mutex
	sent       []*types.Transaction
	pending    int
	status     uint64
	gasErr     error
	emitLog    bool
	escrowID   int64
	callResult []byte
	logs       []types.Log
	client     *EVMClient
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasErr != nil {
		return nil, f.gasErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	r := &types.Receipt{Status: f.status, TxHash: hash, BlockNumber: big.NewInt(100)}
	if f.emitLog {
		r.Logs = []*types.Log{f.escrowLog(hash)}
	}
	return r, nil
}

func (f *fakeBackend) escrowLog(hash common.Hash) *types.Log {
	event := f.client.abi.Events[eventEscrowCreated]
	data, err := event.Inputs.NonIndexed().Pack(ToWei(decimal.RequireFromString("1.5")))
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: common.HexToAddress(testContract),
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(f.escrowID)),
			common.BytesToHash(testBuyer.Bytes()),
			common.BytesToHash(testSeller.Bytes()),
		},
		Data:        data,
		TxHash:      hash,
		BlockNumber: 100,
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callResult, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}

func newTestClient(t *testing.T, fb *fakeBackend, breaker BreakerSettings) (*EVMClient, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewEVMClient(fb, testContract, key, EVMOptions{ChainID: 1337, PollInterval: time.Millisecond, Breaker: breaker})
	require.NoError(t, err)
	fb.client = c
	if fb.status == 0 {
		fb.status = types.ReceiptStatusSuccessful
	}
	return c, crypto.PubkeyToAddress(key.PublicKey)
}

func TestCreateEscrowAutoFund(t *testing.T) {
	fb := &fakeBackend{emitLog: true, escrowID: 77, pending: 2}
	c, from := newTestClient(t, fb, BreakerSettings{})

	receipt, err := c.CreateEscrow(context.Background(), testSeller.Hex(), decimal.RequireFromString("1.5"), 72*time.Hour, "trade:1;domain:example.io", true)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), receipt.EscrowID)
	require.Len(t, fb.sent, 1)

	tx := fb.sent[0]
	assert.Equal(t, receipt.TxHash, tx.Hash().Hex())
	assert.Equal(t, "1500000000000000000", tx.Value().String())
	assert.Equal(t, common.HexToAddress(testContract), *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender)

	args, err := c.abi.Methods["createEscrow"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, testSeller, args[0])
	assert.Equal(t, "259200", args[2].(*big.Int).String())
	assert.Equal(t, "trade:1;domain:example.io", args[3])
	assert.Equal(t, true, args[4])
}

func TestCreateEscrowWithoutEvent(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := newTestClient(t, fb, BreakerSettings{})
	_, err := c.CreateEscrow(context.Background(), testSeller.Hex(), decimal.NewFromInt(1), time.Hour, "", false)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Equal(t, 0, fb.sent[0].Value().Sign())
}

func TestRevertedTransaction(t *testing.T) {
	fb := &fakeBackend{status: types.ReceiptStatusFailed}
	c, _ := newTestClient(t, fb, BreakerSettings{})
	fb.status = types.ReceiptStatusFailed
	_, err := c.ConfirmDelivery(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
}

func TestCalculateFee(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := newTestClient(t, fb, BreakerSettings{})
	out, err := c.abi.Methods["calculateFee"].Outputs.Pack(ToWei(decimal.RequireFromString("0.025")))
	require.NoError(t, err)
	fb.callResult = out

	fee, err := c.CalculateFee(context.Background(), decimal.NewFromInt(1), testBuyer.Hex())
	require.NoError(t, err)
	assert.Equal(t, "0.025", fee)

	_, err = c.CalculateFee(context.Background(), decimal.NewFromInt(1), "nope")
	assert.Error(t, err)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	fb := &fakeBackend{gasErr: errors.New("node down")}
	c, _ := newTestClient(t, fb, BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.FundEscrow(ctx, 1, decimal.NewFromInt(1))
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	_, err := c.FundEscrow(ctx, 1, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, fb.sent)
}

func TestEscrowCreatedLogs(t *testing.T) {
	fb := &fakeBackend{escrowID: 9}
	c, _ := newTestClient(t, fb, BreakerSettings{})
	good := *fb.escrowLog(common.HexToHash("0x01"))
	fb.logs = []types.Log{good, {Topics: []common.Hash{{}}}}

	events, err := c.EscrowCreatedLogs(context.Background(), 90, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(9), events[0].EscrowID)
	assert.Equal(t, testSeller.Hex(), events[0].Seller)
	assert.Equal(t, "1.5", events[0].Amount.String())
	assert.Equal(t, uint64(100), events[0].BlockNumber)
}
