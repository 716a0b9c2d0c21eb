package bip32

import (
	"encoding/hex"
	"testing"

	"cryptopayx/pkg/bip39"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestNewMasterKeyFromSeed(t *testing.T) {
	mnemonicService := bip39.NewMnemonicService()
	mnemonic, err := mnemonicService.GenerateMnemonic(128)
	if err != nil {
		t.Fatalf("生成助记词失败: %v", err)
	}
	seed := mnemonicService.MnemonicToSeed(mnemonic, "")

	wallet, err := NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("生成主密钥失败: %v", err)
	}
	if wallet.MasterKey() == nil {
		t.Fatal("主密钥为空")
	}
	if !wallet.MasterKey().IsPrivate() {
		t.Error("主密钥应当是私钥")
	}
}

func TestNewMasterKeyFromSeedRejectsBadLength(t *testing.T) {
	if _, err := NewMasterKeyFromSeed(make([]byte, 8), nil); err != ErrInvalidSeed {
		t.Errorf("期望 ErrInvalidSeed, 得到 %v", err)
	}
	if _, err := NewMasterKeyFromSeed(make([]byte, 128), nil); err != ErrInvalidSeed {
		t.Errorf("期望 ErrInvalidSeed, 得到 %v", err)
	}
}

func TestDerivePath(t *testing.T) {
	seed, _ := hex.DecodeString("fffcf9f6da3247d8a846f4b6113e6173")
	wallet, err := NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("生成主密钥失败: %v", err)
	}

	// 派生是确定性的: 同一路径两次派生结果一致
	for _, path := range []string{"m/0", "m/0'", "m/44'/60'/0'/0/0", "m/44h/60h/0h/0/0"} {
		first, err := wallet.DerivePath(path)
		if err != nil {
			t.Fatalf("派生路径 %s 失败: %v", path, err)
		}
		second, err := wallet.DerivePath(path)
		if err != nil {
			t.Fatalf("派生路径 %s 失败: %v", path, err)
		}
		if first.String() != second.String() {
			t.Errorf("路径 %s 两次派生结果不一致", path)
		}
	}

	// ' 与 h 后缀等价
	a, _ := wallet.DerivePath("m/44'/60'/0'/0/0")
	b, _ := wallet.DerivePath("m/44h/60h/0h/0/0")
	if a.String() != b.String() {
		t.Error("' 与 h 后缀应派生出相同密钥")
	}

	// Neuter 得到扩展公钥
	pub, err := a.Neuter()
	if err != nil {
		t.Fatalf("转换扩展公钥失败: %v", err)
	}
	if pub.IsPrivate() {
		t.Error("Neuter() 结果不应是私钥")
	}

	// 非法路径
	if _, err := wallet.DerivePath("m/not-a-number"); err == nil {
		t.Error("非法路径应当报错")
	}
}
