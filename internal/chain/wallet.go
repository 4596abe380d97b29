package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// DevMnemonic is the well-known development mnemonic used by local chains.
const DevMnemonic = "test test test test test test test test test test test junk"

// m/44'/60'/0'/0
var ethereumAccountPath = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
}

// Wallet holds the signing keys for the authorized accounts, in derivation
// order. The first account is the default sender.
type Wallet struct {
	keys  []*ecdsa.PrivateKey
	addrs []common.Address
	index map[common.Address]int
}

// NewMnemonicWallet derives count accounts along m/44'/60'/0'/0/i.
func NewMnemonicWallet(mnemonic, passphrase string, count int) (*Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	if count <= 0 {
		count = 1
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	parent := master
	for _, idx := range ethereumAccountPath {
		parent, err = parent.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive key: %w", err)
		}
	}

	keys := make([]*ecdsa.PrivateKey, 0, count)
	for i := 0; i < count; i++ {
		child, err := parent.Derive(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("derive account %d: %w", i, err)
		}
		priv, err := child.ECPrivKey()
		if err != nil {
			return nil, fmt.Errorf("account %d private key: %w", i, err)
		}
		keys = append(keys, priv.ToECDSA())
	}
	return newWallet(keys), nil
}

// NewKeyWallet builds a wallet from hex-encoded private keys.
func NewKeyWallet(hexKeys ...string) (*Wallet, error) {
	if len(hexKeys) == 0 {
		return nil, errors.New("at least one private key is required")
	}
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for _, hk := range hexKeys {
		pk, err := parsePrivateKey(hk)
		if err != nil {
			return nil, err
		}
		keys = append(keys, pk)
	}
	return newWallet(keys), nil
}

func newWallet(keys []*ecdsa.PrivateKey) *Wallet {
	w := &Wallet{
		keys:  keys,
		addrs: make([]common.Address, len(keys)),
		index: make(map[common.Address]int, len(keys)),
	}
	for i, k := range keys {
		addr := crypto.PubkeyToAddress(k.PublicKey)
		w.addrs[i] = addr
		w.index[addr] = i
	}
	return w
}

// Accounts returns a copy of the wallet addresses.
func (w *Wallet) Accounts() []common.Address {
	out := make([]common.Address, len(w.addrs))
	copy(out, w.addrs)
	return out
}

func (w *Wallet) Key(addr common.Address) (*ecdsa.PrivateKey, bool) {
	i, ok := w.index[addr]
	if !ok {
		return nil, false
	}
	return w.keys[i], true
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
