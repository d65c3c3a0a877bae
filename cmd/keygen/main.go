// Command keygen writes a fresh RSA keypair as PEM files.
package main

import (
	"flag"
	"fmt"
	"os"

	"tally/keystore"
)

func main() {
	var (
		private = flag.String("private", "client.key", "private key output path")
		public  = flag.String("public", "client.pub", "public key output path")
	)
	flag.Parse()

	pair, err := keystore.Generate()
	if err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
	if err := pair.Save(*private, *public); err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s and %s\n", *private, *public)
}
