package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/stellar/go/keypair"

	"github.com/leapdao/acebusters-backend/internal/token"
)

// signtoken signs action receipts and netting balances for manual testing,
// or decodes and verifies an existing token.
//
//	signtoken -seed S... -action bet -hand 3 -amount 100
//	signtoken -seed S... -netting "3|GA:100,GB:0"
//	signtoken -decode <token>
func main() {
	var (
		seed    = flag.String("seed", os.Getenv("SIGNER_SECRET"), "Stellar secret seed of the signer")
		action  = flag.String("action", "", "action name (bet, fold, checkPre, show, sitOut, leave, message, ...)")
		hand    = flag.Uint64("hand", 0, "hand id")
		amount  = flag.Int64("amount", 0, "cumulative amount")
		table   = flag.String("table", "", "table contract id (messages)")
		message = flag.String("message", "", "message text (messages)")
		netting = flag.String("netting", "", "canonical netting balances to sign instead of a receipt")
		decode  = flag.String("decode", "", "token to decode and verify")
	)
	flag.Parse()

	if *decode != "" {
		r, err := token.Parse(*decode)
		if err != nil {
			fail("invalid token: %v", err)
		}
		out, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(out))
		return
	}

	kp, err := keypair.ParseFull(*seed)
	if err != nil {
		fail("invalid seed: %v", err)
	}

	if *netting != "" {
		sig, err := token.SignData(kp, []byte(*netting))
		if err != nil {
			fail("failed to sign netting: %v", err)
		}
		fmt.Println(sig)
		return
	}

	act, err := token.ParseAction(*action)
	if err != nil {
		fail("invalid action: %v", err)
	}
	raw, err := token.Sign(kp, token.Receipt{
		Action:  act,
		HandID:  *hand,
		Amount:  *amount,
		Table:   *table,
		Message: *message,
	})
	if err != nil {
		fail("failed to sign receipt: %v", err)
	}
	fmt.Println(raw)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
