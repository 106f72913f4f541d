// Railgun CLI - command-line interface for a Railgun shielded wallet.
package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/keys"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("railgun-cli v%s\n", version)

	case "help":
		printUsage()

	case "wallet":
		if len(os.Args) < 3 {
			fmt.Println("Usage: railgun-cli wallet <subcommand>")
			fmt.Println("Subcommands: new, address")
			os.Exit(1)
		}
		cmdWallet(os.Args[2:])

	case "tx":
		if len(os.Args) < 3 {
			fmt.Println("Usage: railgun-cli tx <subcommand>")
			fmt.Println("Subcommands: send, status <txid>")
			os.Exit(1)
		}
		cmdTransaction(os.Args[2:])

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("railgun-cli - command-line interface for a Railgun shielded wallet")
	fmt.Println()
	fmt.Println("Usage: railgun-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  version   Show version information")
	fmt.Println("  help      Show this help message")
	fmt.Println("  wallet    Wallet operations (new, address)")
	fmt.Println("  tx        Transaction operations (send, status)")
}

func cmdWallet(args []string) {
	switch args[0] {
	case "new":
		var spendSeed, viewSeed [32]byte
		if _, err := rand.Read(spendSeed[:]); err != nil {
			fmt.Fprintf(os.Stderr, "generate spending seed: %v\n", err)
			os.Exit(1)
		}
		if _, err := rand.Read(viewSeed[:]); err != nil {
			fmt.Fprintf(os.Stderr, "generate viewing seed: %v\n", err)
			os.Exit(1)
		}

		spendKey, err := keys.NewSpendingKey(spendSeed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "derive spending key: %v\n", err)
			os.Exit(1)
		}
		viewKey := keys.NewViewingKey(viewSeed)
		viewPub, err := viewKey.PublicKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "derive viewing public key: %v\n", err)
			os.Exit(1)
		}
		master := keys.NewMasterPublicKey(spendKey.PublicKey(), viewKey.NullifyingKey())
		addr := address.New(master, viewPub, address.EVMChain(1))

		fmt.Println("Wallet created. Store these seeds securely:")
		fmt.Printf("  Spending seed: %x\n", spendSeed)
		fmt.Printf("  Viewing seed:  %x\n", viewSeed)
		fmt.Printf("  Address:       %s\n", addr.String())

	case "address":
		fmt.Println("Usage: railgun-cli wallet new  (no standalone key store wired yet)")

	default:
		fmt.Printf("Unknown wallet command: %s\n", args[0])
	}
}

func cmdTransaction(args []string) {
	switch args[0] {
	case "send":
		fmt.Println("Usage: railgun-cli tx send --to <0zk address> --token <erc20> --amount <wei>")
		fmt.Println("Transaction sending requires a running railgund node; see cmd/railgund.")

	case "status":
		if len(args) < 2 {
			fmt.Println("Usage: railgun-cli tx status <txid>")
			return
		}
		fmt.Printf("Transaction %s: unknown (no indexer connection configured)\n", args[1])

	default:
		fmt.Printf("Unknown transaction command: %s\n", args[0])
	}
}
