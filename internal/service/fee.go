package service

import "github.com/shopspring/decimal"

// gas 估算的安全缓冲: 实际上链消耗可能高于估算 (状态变化/退款分支)
const gasBufferPercent = 20

// 费用计算用指数平移保持精确, 不引入除法舍入

// PlatformFee 平台手续费: amount * feeBps / 10000
func PlatformFee(amount decimal.Decimal, feeBps int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(feeBps)).Shift(-4)
}

// NetworkFee 链上手续费 (ETH 计): gasUsed * gasPriceGwei / 1e9
func NetworkFee(gasUsed uint64, gasPriceGwei decimal.Decimal) decimal.Decimal {
	return decimal.NewFromUint64(gasUsed).Mul(gasPriceGwei).Shift(-9)
}

// BufferedGasLimit 在估算值上叠加 20% 缓冲
func BufferedGasLimit(estimate uint64) uint64 {
	return estimate * (100 + gasBufferPercent) / 100
}
