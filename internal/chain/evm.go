package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// EscrowABI интерфейс эскроу-контракта, с которым работает сервис.
const EscrowABI = `[
{"type":"function","name":"createEscrow","stateMutability":"payable","inputs":[{"name":"seller","type":"address"},{"name":"amount","type":"uint256"},{"name":"disputeWindow","type":"uint256"},{"name":"metadata","type":"string"},{"name":"autoFund","type":"bool"}],"outputs":[{"name":"escrowId","type":"uint256"}]},
{"type":"function","name":"fundEscrow","stateMutability":"payable","inputs":[{"name":"escrowId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"confirmDelivery","stateMutability":"nonpayable","inputs":[{"name":"escrowId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"calculateFee","stateMutability":"view","inputs":[{"name":"amount","type":"uint256"},{"name":"user","type":"address"}],"outputs":[{"name":"fee","type":"uint256"}]},
{"type":"event","name":"EscrowCreated","anonymous":false,"inputs":[{"name":"escrowId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const eventEscrowCreated = "EscrowCreated"

// Backend подмножество ethclient.Client, которое использует клиент.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ Backend = (*ethclient.Client)(nil)

// EscrowCreated событие создания эскроу из журнала контракта.
type EscrowCreated struct {
	EscrowID    uint64
	Buyer       string
	Seller      string
	Amount      decimal.Decimal
	TxHash      string
	BlockNumber uint64
}

type EVMOptions struct {
	ChainID      int64
	PollInterval time.Duration
	// MineTimeout ограничивает ожидание включения транзакции в блок.
	MineTimeout time.Duration
	Breaker     BreakerSettings
	Logger      *zap.Logger
}

// EVMClient реализует EscrowClient поверх JSON-RPC узла.
type EVMClient struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	poll     time.Duration
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker[any]
	log      *zap.Logger

	// nonce выдаётся последовательно
	sendMu sync.Mutex
}

// DialEVM подключается к узлу и создаёт клиент контракта.
func DialEVM(ctx context.Context, rpcURL, contract, privateKeyHex string, opts EVMOptions) (*EVMClient, error) {
	if rpcURL == "" || contract == "" || privateKeyHex == "" {
		return nil, ErrNotConfigured
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	if opts.ChainID == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		opts.ChainID = id.Int64()
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return NewEVMClient(client, contract, key, opts)
}

func NewEVMClient(backend Backend, contract string, key *ecdsa.PrivateKey, opts EVMOptions) (*EVMClient, error) {
	if !IsAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	parsed, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MineTimeout <= 0 {
		opts.MineTimeout = 2 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &EVMClient{
		backend:  backend,
		contract: common.HexToAddress(contract),
		abi:      parsed,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(opts.ChainID),
		poll:     opts.PollInterval,
		timeout:  opts.MineTimeout,
		cb:       newBreaker("escrow-rpc", opts.Breaker),
		log:      log,
	}, nil
}

// CreateEscrow создаёт эскроу; при autoFund сумма переводится той же транзакцией.
func (c *EVMClient) CreateEscrow(ctx context.Context, seller string, amount decimal.Decimal, disputeWindow time.Duration, metadata string, autoFund bool) (EscrowReceipt, error) {
	if !IsAddress(seller) {
		return EscrowReceipt{}, fmt.Errorf("invalid seller address %q", seller)
	}
	wei := ToWei(amount)
	value := big.NewInt(0)
	if autoFund {
		value = wei
	}
	window := big.NewInt(int64(disputeWindow / time.Second))
	receipt, err := c.transact(ctx, value, "createEscrow", common.HexToAddress(seller), wei, window, metadata, autoFund)
	if err != nil {
		return EscrowReceipt{}, err
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.contract {
			continue
		}
		ev, err := c.ParseEscrowCreated(*l)
		if err != nil {
			continue
		}
		return EscrowReceipt{TxHash: receipt.TxHash.Hex(), EscrowID: ev.EscrowID}, nil
	}
	return EscrowReceipt{}, ErrEventNotFound
}

// FundEscrow переводит сумму в ранее созданный эскроу.
func (c *EVMClient) FundEscrow(ctx context.Context, escrowID uint64, amount decimal.Decimal) (string, error) {
	receipt, err := c.transact(ctx, ToWei(amount), "fundEscrow", new(big.Int).SetUint64(escrowID))
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// ConfirmDelivery подтверждает получение и освобождает средства продавцу.
func (c *EVMClient) ConfirmDelivery(ctx context.Context, escrowID uint64) (string, error) {
	receipt, err := c.transact(ctx, big.NewInt(0), "confirmDelivery", new(big.Int).SetUint64(escrowID))
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// CalculateFee комиссия контракта для суммы и адреса, в нативной валюте.
func (c *EVMClient) CalculateFee(ctx context.Context, amount decimal.Decimal, address string) (string, error) {
	if !IsAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	data, err := c.abi.Pack("calculateFee", ToWei(amount), common.HexToAddress(address))
	if err != nil {
		return "", fmt.Errorf("pack calculateFee: %w", err)
	}
	out, err := execute(c.cb, func() ([]byte, error) {
		return c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	})
	if err != nil {
		return "", fmt.Errorf("call calculateFee: %w", err)
	}
	vals, err := c.abi.Unpack("calculateFee", out)
	if err != nil || len(vals) != 1 {
		return "", fmt.Errorf("unpack calculateFee: %w", err)
	}
	fee, ok := vals[0].(*big.Int)
	if !ok {
		return "", fmt.Errorf("unexpected calculateFee result %T", vals[0])
	}
	return FromWei(fee).String(), nil
}

// Head номер последнего блока.
func (c *EVMClient) Head(ctx context.Context) (uint64, error) {
	return execute(c.cb, func() (uint64, error) { return c.backend.BlockNumber(ctx) })
}

// EscrowCreatedLogs события EscrowCreated в диапазоне блоков включительно.
func (c *EVMClient) EscrowCreatedLogs(ctx context.Context, from, to uint64) ([]EscrowCreated, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.abi.Events[eventEscrowCreated].ID}},
	}
	logs, err := execute(c.cb, func() ([]types.Log, error) { return c.backend.FilterLogs(ctx, q) })
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	out := make([]EscrowCreated, 0, len(logs))
	for _, l := range logs {
		ev, err := c.ParseEscrowCreated(l)
		if err != nil {
			c.log.Warn("skip malformed escrow log", zap.String("tx", l.TxHash.Hex()), zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// ParseEscrowCreated разбирает запись журнала EscrowCreated.
func (c *EVMClient) ParseEscrowCreated(l types.Log) (EscrowCreated, error) {
	event := c.abi.Events[eventEscrowCreated]
	if len(l.Topics) != 4 || l.Topics[0] != event.ID {
		return EscrowCreated{}, errors.New("not an EscrowCreated log")
	}
	vals, err := event.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil || len(vals) != 1 {
		return EscrowCreated{}, fmt.Errorf("unpack EscrowCreated: %w", err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return EscrowCreated{}, fmt.Errorf("unexpected amount type %T", vals[0])
	}
	id := new(big.Int).SetBytes(l.Topics[1].Bytes())
	if !id.IsUint64() {
		return EscrowCreated{}, errors.New("escrow id overflows uint64")
	}
	return EscrowCreated{
		EscrowID:    id.Uint64(),
		Buyer:       common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
		Seller:      common.BytesToAddress(l.Topics[3].Bytes()).Hex(),
		Amount:      FromWei(amount),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}, nil
}

func (c *EVMClient) transact(ctx context.Context, value *big.Int, method string, args ...any) (*types.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	tx, err := execute(c.cb, func() (*types.Transaction, error) { return c.send(ctx, value, data) })
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	c.log.Info("escrow tx sent", zap.String("method", method), zap.String("tx", tx.Hash().Hex()))
	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s: tx %s reverted", method, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *EVMClient) send(ctx context.Context, value *big.Int, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &c.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas * 12 / 10,
		To:       &c.contract,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

func (c *EVMClient) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait mined %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ EscrowClient = (*EVMClient)(nil)
