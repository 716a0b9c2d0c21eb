package bip32

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// keychain 包装 hdkeychain.ExtendedKey 实现 ExtendedKey
type keychain struct {
	key     *hdkeychain.ExtendedKey
	network *chaincfg.Params
}

func (k *keychain) String() string {
	return k.key.String()
}

func (k *keychain) ECPrivKey() (*btcec.PrivateKey, error) {
	return k.key.ECPrivKey()
}

func (k *keychain) ECPubKey() (*btcec.PublicKey, error) {
	return k.key.ECPubKey()
}

func (k *keychain) Derive(index uint32) (ExtendedKey, error) {
	child, err := k.key.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive child key: %w", err)
	}
	return &keychain{key: child, network: k.network}, nil
}

func (k *keychain) Neuter() (ExtendedKey, error) {
	pub, err := k.key.Neuter()
	if err != nil {
		return nil, fmt.Errorf("neuter key: %w", err)
	}
	return &keychain{key: pub, network: k.network}, nil
}

func (k *keychain) IsPrivate() bool {
	return k.key.IsPrivate()
}

// Wallet 实现 HDWallet
type Wallet struct {
	masterKey *keychain
	network   *chaincfg.Params
}

// NewMasterKeyFromSeed 从 BIP-39 种子生成主密钥.
// network 为 nil 时默认 MainNet.
func NewMasterKeyFromSeed(seed []byte, network *chaincfg.Params) (*Wallet, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, ErrInvalidSeed
	}
	if network == nil {
		network = &chaincfg.MainNetParams
	}

	masterKey, err := hdkeychain.NewMaster(seed, network)
	if err != nil {
		return nil, fmt.Errorf("new master key: %w", err)
	}
	return &Wallet{
		masterKey: &keychain{key: masterKey, network: network},
		network:   network,
	}, nil
}

func (w *Wallet) MasterKey() ExtendedKey {
	return w.masterKey
}

// DerivePath 解析 "m/44'/60'/0'/0/0" 形式的路径逐段派生.
// hardened 段接受 ' 或 h 后缀.
func (w *Wallet) DerivePath(path string) (ExtendedKey, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "m" {
		return w.masterKey, nil
	}
	path = strings.TrimPrefix(path, "m/")

	current := ExtendedKey(w.masterKey)
	for _, segment := range strings.Split(path, "/") {
		hardened := false
		if strings.HasSuffix(segment, "'") || strings.HasSuffix(segment, "h") {
			hardened = true
			segment = segment[:len(segment)-1]
		}

		val, err := strconv.ParseUint(segment, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidPath, segment)
		}
		index := uint32(val)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}

		current, err = current.Derive(index)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}
