// Command genpass hashes a password with the same Argon2id parameters the
// server uses to verify admin logins. Used when seeding or rotating an
// admin's password outside the running service.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/linetally/peoplecount/internal/auth"
)

func main() {
	flag.Parse()
	password := flag.Arg(0)
	if password == "" {
		fmt.Fprintln(os.Stderr, "usage: genpass <password>")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genpass: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
