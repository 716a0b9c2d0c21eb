package bip32

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ExtendedKey BIP-32 扩展密钥
type ExtendedKey interface {
	// String 返回 Base58 编码 (xprv... / xpub...)
	String() string

	// ECPrivKey 取底层 EC 私钥 (签名用), 公钥型密钥返回错误
	ECPrivKey() (*btcec.PrivateKey, error)
	ECPubKey() (*btcec.PublicKey, error)

	// Derive 按索引派生子密钥
	Derive(index uint32) (ExtendedKey, error)
	// Neuter 私钥转扩展公钥
	Neuter() (ExtendedKey, error)
	IsPrivate() bool
}

// HDWallet 分层确定性钱包
type HDWallet interface {
	MasterKey() ExtendedKey
	// DerivePath 按路径派生, 如 "m/44'/60'/0'/0/0"
	DerivePath(path string) (ExtendedKey, error)
}

var (
	ErrInvalidSeed = errors.New("invalid seed length")
	ErrInvalidPath = errors.New("invalid derivation path")
)
