package main

import (
	"log"

	loansd "tranchor/services/loansd"
)

func main() {
	if err := loansd.Main(); err != nil {
		log.Fatalf("loansd: %v", err)
	}
}
