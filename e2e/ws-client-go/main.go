// Command ws-client-go is a manual test harness for the signaling endpoint.
//
// It connects to a running peerlens server, joins a room with a role, and
// prints every event it receives. With -frame it also submits one image file
// as a frame-data event, which exercises the frame relay (and server-side
// inference when the server runs with SERVER_INFERENCE=true).
//
// Usage:
//
//	go run ./e2e/ws-client-go -url ws://127.0.0.1:3000/ws -room demo -role receiver
//	go run ./e2e/ws-client-go -url ws://127.0.0.1:3000/ws -room demo -role sender -frame ./testdata/frame.jpg
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Role    string          `json:"role,omitempty"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	url := flag.String("url", "ws://127.0.0.1:3000/ws", "signaling websocket URL")
	room := flag.String("room", "demo", "room to join")
	role := flag.String("role", "receiver", "role to join as (sender|receiver)")
	framePath := flag.String("frame", "", "optional image file to submit as one frame-data event")
	model := flag.String("model", "", "model type to request for the submitted frame")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *url, err)
	}
	defer conn.Close()

	send := func(env envelope) {
		env.V = 1
		if err := conn.WriteJSON(env); err != nil {
			log.Fatalf("send %s: %v", env.Type, err)
		}
	}

	send(envelope{Type: "join-room", Room: *room, Role: *role})

	if *framePath != "" {
		raw, err := os.ReadFile(*framePath)
		if err != nil {
			log.Fatalf("read frame: %v", err)
		}
		payload, err := json.Marshal(map[string]string{
			"frameData": base64.StdEncoding.EncodeToString(raw),
			"modelType": *model,
		})
		if err != nil {
			log.Fatalf("encode frame: %v", err)
		}
		send(envelope{Type: "frame-data", Room: *room, Payload: payload})
		log.Printf("submitted %d byte frame to room %q", len(raw), *room)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				log.Printf("read: %v", err)
				return
			}
			fmt.Printf("[%s] from=%s room=%s payload=%s\n", env.Type, env.From, env.Room, env.Payload)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
	}
}
