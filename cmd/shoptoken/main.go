// Command shoptoken prints a signed access token for local testing. It signs
// with JWT_SECRET, the same secret the shop server verifies with.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
)

func main() {
	subject := flag.String("sub", "", "principal id to put in the token")
	admin := flag.Bool("admin", false, "grant admin rights")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	token, err := auth.NewTokenManager(secret, *ttl).Issue(domain.Principal{ID: *subject, IsAdmin: *admin})
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(token)
}
