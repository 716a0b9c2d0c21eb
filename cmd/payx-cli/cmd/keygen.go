package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"

	"cryptopayx/pkg/address"
	"cryptopayx/pkg/bip32"
	"cryptopayx/pkg/bip39"
)

var keygenAccounts int

// keygenCmd 代表 keygen 命令
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "生成一个新钱包",
	Long:  `生成随机 BIP-39 助记词, 并按 BIP-44 派生 ETH (m/44'/60') 与 BTC (m/44'/0') 账户.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. 生成助记词
		mnemonicService := bip39.NewMnemonicService()
		mnemonic, err := mnemonicService.GenerateMnemonic(256) // 24 words
		if err != nil {
			fmt.Printf("生成助记词失败: %v\n", err)
			return
		}
		fmt.Printf("助记词 (Mnemonic): \n%s\n", mnemonic)
		fmt.Println("---------------------------------------------------")

		// 2. 种子 -> HD Wallet 主密钥
		seed := mnemonicService.MnemonicToSeed(mnemonic, "")
		wallet, err := bip32.NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
		if err != nil {
			fmt.Printf("生成主密钥失败: %v\n", err)
			return
		}

		// 3. 派生账户 (BIP-44)
		ethGen := address.NewETHGenerator()
		btcGen := address.NewBTCGenerator(&chaincfg.MainNetParams)
		for i := 0; i < keygenAccounts; i++ {
			ethPath := fmt.Sprintf("m/44'/60'/0'/0/%d", i)
			ethKey, err := wallet.DerivePath(ethPath)
			if err != nil {
				fmt.Printf("派生 %s 失败: %v\n", ethPath, err)
				return
			}
			ecPrivKey, err := ethKey.ECPrivKey()
			if err != nil {
				fmt.Printf("提取私钥失败: %v\n", err)
				return
			}
			ethAddr, err := ethGen.PubKeyToAddress(ecPrivKey.PubKey().SerializeUncompressed())
			if err != nil {
				fmt.Printf("地址生成失败: %v\n", err)
				return
			}

			btcPath := fmt.Sprintf("m/44'/0'/0'/0/%d", i)
			btcKey, err := wallet.DerivePath(btcPath)
			if err != nil {
				fmt.Printf("派生 %s 失败: %v\n", btcPath, err)
				return
			}
			btcPrivKey, err := btcKey.ECPrivKey()
			if err != nil {
				fmt.Printf("提取私钥失败: %v\n", err)
				return
			}
			btcAddr, err := btcGen.PubKeyToAddress(btcPrivKey.PubKey().SerializeCompressed())
			if err != nil {
				fmt.Printf("地址生成失败: %v\n", err)
				return
			}

			fmt.Printf("[Account %d]\n", i)
			fmt.Printf("  ETH Address (%s): %s\n", ethPath, ethAddr)
			fmt.Printf("  ETH Private Key:  %s\n", hex.EncodeToString(ecPrivKey.Serialize()))
			fmt.Printf("  BTC Address (%s):  %s\n", btcPath, btcAddr)
		}
		fmt.Println("---------------------------------------------------")
		fmt.Println("请妥善保管您的助记词！任何拥有助记词的人都可以控制该钱包的所有资产。")
	},
}

func init() {
	keygenCmd.Flags().IntVarP(&keygenAccounts, "accounts", "n", 1, "派生的账户数量")
	rootCmd.AddCommand(keygenCmd)
}
