// Command backofficectl opera el back office desde una terminal: login por
// OTP, CRUD de recursos y estadísticas, hablando directo con el marketplace.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
