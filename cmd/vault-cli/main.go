package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"lendvault/crypto"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("LENDVAULT_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "deposit":
		requireArgs(args, 3, "Please provide an account and an amount.")
		submit("vault_depositCollateral", false, map[string]string{"account": args[1], "amount": args[2]})
	case "borrow":
		requireArgs(args, 3, "Please provide an account and an amount.")
		submit("vault_borrow", false, map[string]string{"account": args[1], "amount": args[2]})
	case "generate-yield":
		requireArgs(args, 2, "Please provide a yield amount.")
		submit("vault_generateYield", false, map[string]string{"amount": args[1]})
	case "fund-treasury":
		requireArgs(args, 3, "Please provide the owner address and an amount.")
		submit("vault_fundTreasury", true, map[string]string{"caller": args[1], "amount": args[2]})
	case "mint":
		requireArgs(args, 4, "Please provide the owner address, a recipient and an amount.")
		submit("vault_mintCollateral", true, map[string]string{"caller": args[1], "recipient": args[2], "amount": args[3]})
	case "reduce-debt":
		requireArgs(args, 4, "Please provide the owner address, an account and an amount.")
		submit("vault_reduceDebt", true, map[string]string{"caller": args[1], "account": args[2], "amount": args[3]})
	case "position":
		requireArgs(args, 2, "Please provide an account address.")
		submit("vault_getPosition", false, map[string]string{"account": args[1]})
	case "totals":
		submitNoParams("vault_getTotals")
	case "account":
		requireArgs(args, 2, "Please provide an account address.")
		submit("vault_getAccount", false, map[string]string{"account": args[1]})
	case "max-borrow":
		requireArgs(args, 2, "Please provide an account address.")
		submit("vault_maxBorrow", false, map[string]string{"account": args[1]})
	case "events":
		after := uint64(0)
		if len(args) > 1 {
			parsed, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				fmt.Println("Error: Invalid cursor.")
				return
			}
			after = parsed
		}
		submit("vault_getEvents", false, map[string]uint64{"after": after})
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func requireArgs(args []string, n int, msg string) {
	if len(args) < n {
		fmt.Println("Error: " + msg)
		printUsage()
		os.Exit(1)
	}
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	encoded := hex.EncodeToString(key.Bytes())
	if err := os.WriteFile("wallet.key", []byte(encoded), 0o600); err != nil {
		fmt.Printf("Error saving key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("New key saved to wallet.key\nAddress: %s\n", key.PubKey().Address().String())
}

func submit(method string, requireAuth bool, params interface{}) {
	result, err := call(method, requireAuth, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(result)
}

func submitNoParams(method string) {
	result, err := callRaw(method, false, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(result)
}

func call(method string, requireAuth bool, params interface{}) (string, error) {
	return callRaw(method, requireAuth, []interface{}{params})
}

func callRaw(method string, requireAuth bool, params []interface{}) (string, error) {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		request["params"] = params
	} else {
		request["params"] = []interface{}{}
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if rpcAuthToken == "" {
			return "", fmt.Errorf("privileged RPC call requires LENDVAULT_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int         `json:"code"`
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("invalid response from %s: %w", rpcEndpoint, err)
	}
	if envelope.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, envelope.Result, "", "  "); err != nil {
		return string(envelope.Result), nil
	}
	return pretty.String(), nil
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8547"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func printUsage() {
	fmt.Println("Usage: vault-cli [--rpc <endpoint>] <command> [arguments]")
	fmt.Println()
	fmt.Println("Privileged commands require LENDVAULT_RPC_TOKEN to match the server token.")
	fmt.Println("Commands:")
	fmt.Println("  generate-key                            - Generates a new key and saves to wallet.key")
	fmt.Println("  deposit <account> <amount>              - Locks collateral for an account")
	fmt.Println("  borrow <account> <amount>               - Borrows against locked collateral")
	fmt.Println("  generate-yield <amount>                 - Distributes yield across open debts")
	fmt.Println("  fund-treasury <owner> <amount>          - Credits the treasury (privileged)")
	fmt.Println("  mint <owner> <recipient> <amount>       - Mints collateral tokens (privileged)")
	fmt.Println("  reduce-debt <owner> <account> <amount>  - Manually reduces a debt (privileged)")
	fmt.Println("  position <account>                      - Shows an account's vault position")
	fmt.Println("  totals                                  - Shows vault-wide totals")
	fmt.Println("  account <account>                       - Shows an account's balances")
	fmt.Println("  max-borrow <account>                    - Shows the current borrow headroom")
	fmt.Println("  events [cursor]                         - Lists vault events after a cursor")
}
