/**
 * @description
 * This file implements the push channel side of the phoenixd client: a
 * websocket subscription to the node's payment notifications. Each raw frame
 * is handed to the configured handler exactly as received; decoding and all
 * settlement semantics live with the consumer. Frames are delivered from a
 * single goroutine, so downstream processing is serialized in arrival order.
 *
 * The feed reconnects with a fixed backoff when the connection drops; the
 * node is the retry authority for notification delivery, so no frames are
 * replayed by this layer.
 *
 * @dependencies
 * - encoding/base64, log, net/http, net/url, strings, sync, time: Standard Go libraries.
 * - github.com/gorilla/websocket: The websocket transport to the node.
 */
package phoenixclient

import (
	"encoding/base64"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const feedReconnectDelay = 5 * time.Second

// Feed maintains the websocket subscription to the node's payment
// notifications and dispatches raw frames to a handler.
type Feed struct {
	wsURL     string
	authToken string
	handler   func(raw []byte)

	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed prepares a notification feed against the node at baseURL. The
// handler receives each raw frame; it must not be nil.
func NewFeed(baseURL, apiPassword string, handler func(raw []byte)) *Feed {
	return &Feed{
		wsURL:     websocketURL(baseURL),
		authToken: base64.StdEncoding.EncodeToString([]byte(":" + apiPassword)),
		handler:   handler,
		done:      make(chan struct{}),
	}
}

func websocketURL(baseURL string) string {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return baseURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	return u.String()
}

// Run blocks, reading notification frames until Close is called. Intended to
// be started as a goroutine from the composition root.
func (f *Feed) Run() {
	for {
		select {
		case <-f.done:
			return
		default:
		}

		if err := f.consumeOnce(); err != nil {
			log.Printf("level=warn component=phoenix_feed msg=\"connection lost; reconnecting\" err=%v", err)
		}

		select {
		case <-f.done:
			return
		case <-time.After(feedReconnectDelay):
		}
	}
}

func (f *Feed) consumeOnce() error {
	header := http.Header{}
	header.Set("Authorization", "Basic "+f.authToken)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("level=info component=phoenix_feed msg=\"connected\" url=%s", f.wsURL)

	// Unblock the pending read when Close is called.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-f.done:
			conn.Close()
		case <-connDone:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handler(raw)
	}
}

// Close stops the feed and releases the connection.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
}
