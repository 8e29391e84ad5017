package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ws_tail subscribes to a gateway room endpoint and prints every event it
// receives. On channel endpoints, any line typed on stdin sends a typing
// indicator, which is handy for watching fan-out from a second terminal.

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_tail: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/me", "gateway endpoint to tail")
	token := flag.String("token", "", "bearer token for the gateway")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+*token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Tailing %s. Press Enter to send typing, Ctrl+C to exit.\n", *addr)

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var in frame
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if len(in.Data) > 0 {
			fmt.Printf("event=%s data=%s\n", in.Type, in.Data)
		} else {
			fmt.Printf("event=%s\n", in.Type)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			kind := strings.TrimSpace(line)
			if kind == "" {
				kind = "typing"
			}
			if err := wsjson.Write(ctx, conn, frame{Type: kind}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
