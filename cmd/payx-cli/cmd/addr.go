package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cryptopayx/internal/ledger"
)

// addrCmd 从私钥反推地址, 便于核对注册用的钱包地址
var addrCmd = &cobra.Command{
	Use:   "addr <private-key-hex>",
	Short: "从私钥反推 ETH 地址",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		addr, err := ledger.AddressFromKey(args[0])
		if err != nil {
			fmt.Printf("私钥非法: %v\n", err)
			return
		}
		fmt.Println(addr)
	},
}

func init() {
	rootCmd.AddCommand(addrCmd)
}
