package state

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	vmtypes "github.com/annchain/forge/vm/types"
)

const (
	remoteAccountCacheSize = 8192
	remoteSlotCacheSize    = 65536
)

// RemoteBacking reads world state from a forked remote chain over RPC,
// pinned to one block. Fetched values are memoized so that repeated reads
// (one clone per fuzz case hammering the same accounts) pay the network
// latency once. All methods are safe for concurrent use; the overlays on top
// never write here.
type RemoteBacking struct {
	client   *ethclient.Client
	blockNum *big.Int

	mu       sync.Mutex
	accounts *lru.Cache // common.Address -> *vmtypes.Account
	slots    *lru.Cache // slotKey -> common.Hash
}

type slotKey struct {
	addr common.Address
	key  common.Hash
}

// NewRemoteBacking pins a backing to the given RPC endpoint and block number
// (nil means the endpoint's latest block at first fetch).
func NewRemoteBacking(rawurl string, blockNum *big.Int) (*RemoteBacking, error) {
	client, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, errors.Wrap(err, "dial fork endpoint")
	}
	return newRemoteBacking(client, blockNum), nil
}

func newRemoteBacking(client *ethclient.Client, blockNum *big.Int) *RemoteBacking {
	accounts, _ := lru.New(remoteAccountCacheSize)
	slots, _ := lru.New(remoteSlotCacheSize)
	return &RemoteBacking{
		client:   client,
		blockNum: blockNum,
		accounts: accounts,
		slots:    slots,
	}
}

func (r *RemoteBacking) Account(addr common.Address) (*vmtypes.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.accounts.Get(addr); ok {
		return v.(*vmtypes.Account).Copy(), nil
	}

	ctx := context.Background()
	balance, err := r.client.BalanceAt(ctx, addr, r.blockNum)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch balance of %s", addr.Hex())
	}
	nonce, err := r.client.NonceAt(ctx, addr, r.blockNum)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch nonce of %s", addr.Hex())
	}
	code, err := r.client.CodeAt(ctx, addr, r.blockNum)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch code of %s", addr.Hex())
	}

	acc := vmtypes.NewAccount()
	acc.Balance = balance
	acc.Nonce = nonce
	if len(code) > 0 {
		acc.SetCode(code)
	}
	logrus.WithField("address", addr.Hex()).Debug("fetched remote account")
	r.accounts.Add(addr, acc)
	return acc.Copy(), nil
}

func (r *RemoteBacking) StorageAt(addr common.Address, key common.Hash) (common.Hash, error) {
	sk := slotKey{addr: addr, key: key}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.slots.Get(sk); ok {
		return v.(common.Hash), nil
	}
	raw, err := r.client.StorageAt(context.Background(), addr, key, r.blockNum)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "fetch storage %s of %s", key.Hex(), addr.Hex())
	}
	value := common.BytesToHash(raw)
	r.slots.Add(sk, value)
	return value, nil
}
