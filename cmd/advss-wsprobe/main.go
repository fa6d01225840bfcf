package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// message mirrors the daemon's host envelope.
type message struct {
	Op   string         `json:"op"`
	ID   uint64         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:4456/advss", "Host websocket URL")
		call    = flag.String("call", "", "Call a single host procedure and exit (e.g. 'advss_get_variable_value')")
		data    = flag.String("data", "{}", "JSON object passed as call data")
		signals = flag.String("watch", "", "Comma-separated signal names to connect and print")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}
	if *call == "" && *signals == "" {
		log.Fatalf("nothing to do: pass -call or -watch")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex

	if *call != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(*data), &payload); err != nil {
			log.Fatalf("invalid -data: %v", err)
		}
		send(conn, &writeMu, message{Op: "call", ID: 1, Name: *call, Data: payload})

		// Skip anything that is not our result (signals may interleave)
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			var m message
			if err := conn.ReadJSON(&m); err != nil {
				log.Fatalf("failed to read response: %v", err)
			}
			if m.Op == "call_result" && m.ID == 1 {
				printJSON(m.Data)
				return
			}
		}
	}

	for _, name := range strings.Split(*signals, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		send(conn, &writeMu, message{Op: "connect", Name: name})
		log.Printf("watching %s", name)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m message
			if err := conn.ReadJSON(&m); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if m.Op != "signal" {
				continue
			}
			fmt.Printf("[SIGNAL] %s\n", m.Name)
			printJSON(m.Data)
			// Synchronous signals block the host until acknowledged
			if m.ID != 0 {
				send(conn, &writeMu, message{Op: "signal_done", ID: m.ID, Name: m.Name, Data: m.Data})
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func printJSON(v any) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Printf("%s\n", pretty)
}

// send writes one envelope (thread-safe)
func send(conn *websocket.Conn, writeMu *sync.Mutex, m message) {
	writeMu.Lock()
	err := conn.WriteJSON(m)
	writeMu.Unlock()
	if err != nil {
		log.Printf("error sending %s: %v", m.Op, err)
	}
}
