package testutils

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/michaelpento.lv/mevsearcher/chain"
)

// CallHandler answers a ReadState call.
type CallHandler func(data []byte, block *big.Int) ([]byte, error)

type callKey struct {
	to       common.Address
	selector [4]byte
}

// MockChain is an in-memory chain.Source.
type MockChain struct {
	mu sync.Mutex

	head      uint64
	chainID   *big.Int
	tip       *big.Int
	nonces    map[common.Address]uint64
	calls     map[callKey]CallHandler
	txs       map[common.Hash]*types.Transaction
	pending   map[common.Hash]bool
	receipts  map[common.Hash]*types.Receipt
	submitted []*types.Transaction
	gasUsed   uint64
	gasErr    error

	// SubmitHook can reject a submission before it is recorded.
	SubmitHook func(tx *types.Transaction) error
	// Mempool controls whether accepted submissions become pending.
	Mempool      bool
	subscribeErr error

	pendingSubs []*mockSub[common.Hash]
	headSubs    []*mockSub[*types.Header]
}

var _ chain.Source = (*MockChain)(nil)

func NewMockChain() *MockChain {
	return &MockChain{
		chainID:  new(big.Int).Set(ChainID),
		tip:      big.NewInt(1e9),
		nonces:   make(map[common.Address]uint64),
		calls:    make(map[callKey]CallHandler),
		txs:      make(map[common.Hash]*types.Transaction),
		pending:  make(map[common.Hash]bool),
		receipts: make(map[common.Hash]*types.Receipt),
		gasUsed:  100000,
		Mempool:  true,
	}
}

func (m *MockChain) SetHead(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = n
}

func (m *MockChain) SetNonce(account common.Address, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[account] = n
}

func (m *MockChain) SetEstimateGas(units uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gasUsed, m.gasErr = units, err
}

// HandleCall routes calls to to with the 4-byte selector of method.
func (m *MockChain) HandleCall(to common.Address, selector []byte, h CallHandler) {
	var key callKey
	key.to = to
	copy(key.selector[:], selector)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[key] = h
}

var reservesOutputs = abi.Arguments{
	{Type: mustType("uint112")},
	{Type: mustType("uint112")},
	{Type: mustType("uint32")},
}

var uint256Outputs6 = abi.Arguments{
	{Type: mustType("uint256")}, {Type: mustType("uint256")}, {Type: mustType("uint256")},
	{Type: mustType("uint256")}, {Type: mustType("uint256")}, {Type: mustType("uint256")},
}

func mustType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// SetReserves makes pair answer getReserves with (reserve0, reserve1).
func (m *MockChain) SetReserves(pair common.Address, reserve0, reserve1 *big.Int) {
	m.HandleCall(pair, selector("getReserves()"), func([]byte, *big.Int) ([]byte, error) {
		return reservesOutputs.Pack(reserve0, reserve1, uint32(0))
	})
}

// SetAccountData makes pool answer getUserAccountData for user.
func (m *MockChain) SetAccountData(pool, user common.Address, collateral, debt, threshold *big.Int) {
	m.mu.Lock()
	key := callKey{to: pool}
	copy(key.selector[:], selector("getUserAccountData(address)"))
	prev := m.calls[key]
	m.mu.Unlock()

	m.HandleCall(pool, key.selector[:], func(data []byte, block *big.Int) ([]byte, error) {
		if len(data) >= 36 && common.BytesToAddress(data[4:36]) == user {
			return uint256Outputs6.Pack(collateral, debt, big.NewInt(0), threshold, big.NewInt(0), big.NewInt(0))
		}
		if prev != nil {
			return prev(data, block)
		}
		return uint256Outputs6.Pack(big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0))
	})
}

// AddPending puts tx in the mempool.
func (m *MockChain) AddPending(tx *types.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.Hash()] = tx
	m.pending[tx.Hash()] = true
}

// Forget removes a transaction from the node's view.
func (m *MockChain) Forget(hash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, hash)
	delete(m.pending, hash)
}

// Mine marks hash as included with the given receipt status.
func (m *MockChain) Mine(hash common.Hash, status uint64, gasUsed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[hash]; ok {
		m.advance(tx)
	}
	m.pending[hash] = false
	m.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		GasUsed:     gasUsed,
		BlockNumber: new(big.Int).SetUint64(m.head),
	}
}

// Submitted returns every accepted submission in order.
func (m *MockChain) Submitted() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Transaction(nil), m.submitted...)
}

func (m *MockChain) ReadState(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("execution reverted")
	}
	var key callKey
	key.to = to
	copy(key.selector[:], data[:4])
	m.mu.Lock()
	h, ok := m.calls[key]
	m.mu.Unlock()
	if !ok {
		// Calls to an address without code return nothing.
		return nil, nil
	}
	return h(data, block)
}

func (m *MockChain) HeadNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

func (m *MockChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gasUsed, m.gasErr
}

func (m *MockChain) GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[hash]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", chain.ErrNotFound, hash.Hex())
	}
	return tx, m.pending[hash], nil
}

func (m *MockChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("%w: receipt %s", chain.ErrNotFound, hash.Hex())
	}
	return r, nil
}

func (m *MockChain) SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if m.SubmitHook != nil {
		if err := m.SubmitHook(tx); err != nil {
			return common.Hash{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, tx)
	if m.Mempool {
		m.txs[tx.Hash()] = tx
		m.pending[tx.Hash()] = true
		m.advance(tx)
	}
	return tx.Hash(), nil
}

// advance moves the sender's pending nonce past tx, as a node does once tx
// is in its pool. Callers hold m.mu.
func (m *MockChain) advance(tx *types.Transaction) {
	from, err := types.Sender(types.LatestSignerForChainID(m.chainID), tx)
	if err != nil {
		return
	}
	if next := tx.Nonce() + 1; next > m.nonces[from] {
		m.nonces[from] = next
	}
}

// PendingNonce counts transactions the mock has seen in its pool or mined,
// on top of SetNonce.
func (m *MockChain) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account], nil
}

func (m *MockChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.tip), nil
}

func (m *MockChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.head
	if number != nil {
		n = number.Uint64()
	}
	return Header(n, 10e9), nil
}

func (m *MockChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.chainID), nil
}

func (m *MockChain) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	sub := newMockSub(ch)
	m.mu.Lock()
	if m.subscribeErr != nil {
		defer m.mu.Unlock()
		return nil, m.subscribeErr
	}
	m.pendingSubs = append(m.pendingSubs, sub)
	m.mu.Unlock()
	return sub, nil
}

func (m *MockChain) SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub := newMockSub(ch)
	m.mu.Lock()
	if m.subscribeErr != nil {
		defer m.mu.Unlock()
		return nil, m.subscribeErr
	}
	m.headSubs = append(m.headSubs, sub)
	m.mu.Unlock()
	return sub, nil
}

// PushPending announces hash on every live pending subscription.
func (m *MockChain) PushPending(ctx context.Context, hash common.Hash) {
	m.mu.Lock()
	subs := append([]*mockSub[common.Hash](nil), m.pendingSubs...)
	m.mu.Unlock()
	for _, s := range subs {
		s.send(ctx, hash)
	}
}

// PushHead advances the head and announces it.
func (m *MockChain) PushHead(ctx context.Context, h *types.Header) {
	m.mu.Lock()
	if n := h.Number.Uint64(); n > m.head {
		m.head = n
	}
	subs := append([]*mockSub[*types.Header](nil), m.headSubs...)
	m.mu.Unlock()
	for _, s := range subs {
		s.send(ctx, h)
	}
}

// Subscribers reports live pending and head subscriptions.
func (m *MockChain) Subscribers() (pending, heads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.pendingSubs {
		if !s.closed() {
			pending++
		}
	}
	for _, s := range m.headSubs {
		if !s.closed() {
			heads++
		}
	}
	return pending, heads
}

// FailSubscriptions makes every new subscription fail with err. A nil err
// lets them succeed again.
func (m *MockChain) FailSubscriptions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// DropSubscriptions fails every live subscription with err.
func (m *MockChain) DropSubscriptions(err error) {
	m.mu.Lock()
	pending := m.pendingSubs
	heads := m.headSubs
	m.pendingSubs, m.headSubs = nil, nil
	m.mu.Unlock()
	for _, s := range pending {
		s.fail(err)
	}
	for _, s := range heads {
		s.fail(err)
	}
}

type mockSub[T any] struct {
	ch   chan<- T
	errc chan error
	quit chan struct{}
	once sync.Once
}

func newMockSub[T any](ch chan<- T) *mockSub[T] {
	return &mockSub[T]{ch: ch, errc: make(chan error, 1), quit: make(chan struct{})}
}

func (s *mockSub[T]) send(ctx context.Context, v T) {
	select {
	case s.ch <- v:
	case <-s.quit:
	case <-ctx.Done():
	}
}

func (s *mockSub[T]) Err() <-chan error { return s.errc }

func (s *mockSub[T]) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *mockSub[T]) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

func (s *mockSub[T]) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		close(s.errc)
	})
}
