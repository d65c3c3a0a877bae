// Command client is an interactive shell over the ledger client
// driver. It loads the caller's keypair and the server's public key,
// bootstraps the sequence counter and reads commands from stdin.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tally/client"
	"tally/keystore"
)

const usage = `commands:
  open                     open an account for this keypair
  send <pubkey-file> <n>   send n to the identity in pubkey-file
  check                    show balance and pending transfers
  receive                  collect all pending transfers
  audit                    list this identity's approved operations
  exit`

func main() {
	var (
		target  = flag.String("server", "localhost:8888", "server address")
		keyPath = flag.String("key", "client.key", "private key file")
		srvPub  = flag.String("server-key", "server.pub", "server public key file")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	keys, err := keystore.Load(*keyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *keyPath).Msg("key load failed")
	}
	serverKey, err := keystore.LoadPublic(*srvPub)
	if err != nil {
		log.Fatal().Err(err).Str("path", *srvPub).Msg("server key load failed")
	}

	ctx := context.Background()
	c, err := client.Dial(ctx, *target, keys, serverKey, log)
	if err != nil {
		log.Fatal().Err(err).Msg("dial failed")
	}
	defer c.Close()

	fmt.Println(usage)
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" {
			return
		}
		run(ctx, c, fields)
	}
}

func run(ctx context.Context, c *client.Client, fields []string) {
	switch fields[0] {
	case "open":
		resp, err := c.OpenAccount(ctx)
		if err != nil {
			fmt.Println(err)
			return
		}
		if !resp.Success {
			fmt.Println(resp.ErrorMessage)
			return
		}
		fmt.Println("account opened")

	case "send":
		if len(fields) != 3 {
			fmt.Println("usage: send <pubkey-file> <amount>")
			return
		}
		dest, err := keystore.LoadPublicDER(fields[1])
		if err != nil {
			fmt.Println(err)
			return
		}
		amount, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			fmt.Println("amount must be an integer")
			return
		}
		resp, err := c.SendAmount(ctx, dest, amount)
		if err != nil {
			fmt.Println(err)
			return
		}
		if !resp.Success {
			fmt.Println(resp.ErrorMessage)
			return
		}
		fmt.Println("sent", amount)

	case "check":
		resp, err := c.CheckAccount(ctx)
		if err != nil {
			fmt.Println(err)
			return
		}
		if !resp.Success {
			fmt.Println(resp.ErrorMessage)
			return
		}
		fmt.Println("balance:", resp.Balance)
		for _, t := range resp.Incoming {
			fmt.Printf("pending: %d from %s\n", t.Amount, short(t.Source))
		}

	case "receive":
		resp, err := c.ReceiveAmount(ctx)
		if err != nil {
			fmt.Println(err)
			return
		}
		if !resp.Success {
			fmt.Println(resp.ErrorMessage)
			return
		}
		fmt.Println("pending transfers collected")

	case "audit":
		resp, err := c.Audit(ctx)
		if err != nil {
			fmt.Println(err)
			return
		}
		if !resp.Success {
			fmt.Println(resp.ErrorMessage)
			return
		}
		for _, line := range resp.Audits {
			fmt.Println(line)
		}

	default:
		fmt.Println(usage)
	}
}

// short abbreviates an encoded identity for display.
func short(key []byte) string {
	s := base64.StdEncoding.EncodeToString(key)
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
