// rendezvous-server is a WebRTC signaling rendezvous service with embedded
// STUN and TURN listeners.
package main

import (
	"rendezvous/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		panic(err)
	}

	if err := application.Run(); err != nil {
		panic(err)
	}
}
