// Command devtoken prints an emulator access token for local runs, where
// the API decodes tokens without verification.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"matchbase.io/internal/identity"
)

func main() {
	var (
		subject = flag.String("subject", "local-admin", "Subject id carried by the token")
		email   = flag.String("email", "admin@matchbase.local", "Email claim")
		ttl     = flag.Duration("ttl", time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "subject is required")
		os.Exit(2)
	}
	token, err := identity.EmulatorToken(*subject, *email, time.Now().Add(*ttl))
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
