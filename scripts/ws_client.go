// Package main is a demo client: it follows the delivery feed and fires one
// test event so the resulting attempts show up on the stream.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	tenant := os.Getenv("TENANT")
	if tenant == "" {
		tenant = "org_demo"
	}
	event := "trace.completed"
	if len(os.Args) > 1 {
		event = os.Args[1]
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/deliveries/stream"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	body, _ := json.Marshal(map[string]any{"event": event, "data": map[string]any{"demo": true}})
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://localhost:%s/v1/events", port), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var summary map[string]int
	_ = json.NewDecoder(resp.Body).Decode(&summary)
	_ = resp.Body.Close()
	log.Printf("trigger %s: %v", event, summary)

	// Read feed events for a short while
	_ = c.SetReadDeadline(time.Now().Add(15 * time.Second))
	for i := 0; i < summary["triggered"]; i++ {
		_, msg, err := c.ReadMessage()
		if err != nil {
			log.Printf("read: %v", err)
			return
		}
		log.Printf("feed: %s", string(msg))
	}
}
