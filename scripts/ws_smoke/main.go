package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/me", "gateway endpoint to probe")
	token := flag.String("token", "", "bearer token for the gateway")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+*token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, frame{Type: "ping"}); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}

	// The server may push presence or room events before answering the ping;
	// keep reading until the pong arrives.
	for {
		var in frame
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if in.Type == "pong" {
			fmt.Println("pong received, gateway is alive")
			return nil
		}
		fmt.Printf("skipping event %s\n", in.Type)
	}
}
