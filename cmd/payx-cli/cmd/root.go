package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "payx-cli",
	Short: "CryptoPayX 命令行工具",
	Long: `CryptoPayX 的运维与开发辅助工具。
支持生成 BIP-39 助记词钱包、派生 ETH 账户, 以及从私钥反推地址。`,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
