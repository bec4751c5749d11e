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

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL    = flag.String("ws", "ws://127.0.0.1:3002/ws", "mousebrainz status websocket URL")
		only     = flag.String("only", "", "Comma separated event types to print (e.g. 'rule_matched,engine_state')")
		velocity = flag.Bool("velocity", false, "Also print scroll_velocity events")
		raw      = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	filter := map[string]bool{}
	for _, t := range strings.Split(*only, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = true
		}
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

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The server pings too; answering resets our deadline as well.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			handleTextMessage(message, filter, *velocity)
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

func handleTextMessage(message []byte, filter map[string]bool, velocity bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	if len(filter) > 0 && !filter[env.Type] {
		return
	}
	if env.Type == "scroll_velocity" && !velocity && !filter[env.Type] {
		return
	}

	ts := time.Now()
	if env.Ts != nil {
		ts = *env.Ts
	}
	fmt.Printf("%s [%s] %s\n", ts.Format("15:04:05.000"), strings.ToUpper(env.Type), formatData(env.Type, env.Data))
}

func formatData(typ string, data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return string(data)
	}

	switch typ {
	case "rule_matched":
		return fmt.Sprintf("%v -> %v (rule %v)", m["trigger"], m["action"], m["rule_id"])
	case "engine_state":
		if running, _ := m["running"].(bool); running {
			return "running"
		}
		return "stopped"
	case "scroll_velocity":
		return fmt.Sprintf("vy=%.1f vx=%.1f active=%v", m["velocity_y"], m["velocity_x"], m["active"])
	}

	pretty, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return string(data)
	}
	return "\n" + string(pretty)
}
