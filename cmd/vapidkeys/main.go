// Command vapidkeys prints a fresh VAPID key pair in .env format.
package main

import (
	"fmt"
	"log"

	"github.com/dukerupert/nudge/internal/vapid"
)

func main() {
	pub, priv, err := vapid.GenerateKeys()
	if err != nil {
		log.Fatalf("generate keys: %v", err)
	}
	fmt.Printf("NUDGE_VAPID_PUBLIC_KEY=%s\n", pub)
	fmt.Printf("NUDGE_VAPID_PRIVATE_KEY=%s\n", priv)
}
