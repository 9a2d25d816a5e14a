// Command token prints a bearer token for a clinician, for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/logan676/mindscribe/internal/auth"
	"github.com/logan676/mindscribe/internal/config"
)

func main() {
	clinician := flag.String("clinician", "", "clinician id to put in sub")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *clinician == "" {
		fmt.Fprintln(os.Stderr, "usage: token -clinician <id> [-ttl 24h]")
		os.Exit(2)
	}
	cfg := config.Load()
	tok, err := auth.SignJWT(*clinician, cfg.JWTSecret, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
