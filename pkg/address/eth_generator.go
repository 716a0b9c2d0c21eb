package address

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ETHGenerator 公钥推导以太坊地址
type ETHGenerator struct{}

func NewETHGenerator() *ETHGenerator {
	return &ETHGenerator{}
}

// PubKeyToAddress 非压缩公钥 (65 bytes, 0x04 前缀) 转 EIP-55 地址:
// keccak256(pubkey[1:]) 取后 20 字节, 再按哈希位叠加大小写校验.
func (g *ETHGenerator) PubKeyToAddress(pubKeyBytes []byte) (string, error) {
	if len(pubKeyBytes) == 65 && pubKeyBytes[0] == 0x04 {
		pubKeyBytes = pubKeyBytes[1:]
	}

	hash := keccak256(pubKeyBytes)
	addressHex := hex.EncodeToString(hash[12:])
	return "0x" + toChecksumAddress(addressHex), nil
}

func keccak256(data []byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	return hash.Sum(nil)
}

// toChecksumAddress EIP-55: 地址自身哈希的对应半字节 >= 8 时该位转大写
func toChecksumAddress(address string) string {
	address = strings.ToLower(address)
	hexHash := hex.EncodeToString(keccak256([]byte(address)))

	var sb strings.Builder
	for i := 0; i < len(address); i++ {
		if hexNibble(hexHash[i]) >= 8 {
			sb.WriteString(strings.ToUpper(string(address[i])))
		} else {
			sb.WriteByte(address[i])
		}
	}
	return sb.String()
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}
