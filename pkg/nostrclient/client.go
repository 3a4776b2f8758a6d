/**
 * @description
 * This package provides a best-effort publisher for Nostr text notes. After a
 * pin's payment settles, the service publishes the pin's message (plus a link
 * back to the map) as a public note. Publication is supplementary: a failure
 * here never affects pin activation, so the client reports errors and moves on
 * without retrying.
 *
 * @dependencies
 * - context, errors, fmt, log, strings: Standard Go libraries.
 * - github.com/nbd-wtf/go-nostr: Event construction, signing, and relay publishing.
 */
package nostrclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Client publishes text notes to a fixed set of relays.
type Client struct {
	secretKey string
	publicKey string
	relays    []string
}

// NewClient validates the hex-encoded secret key and returns a publisher for
// the given relay URLs.
func NewClient(secretKey string, relays []string) (*Client, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errors.New("nostr secret key is required")
	}
	publicKey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid nostr secret key: %w", err)
	}
	if len(relays) == 0 {
		return nil, errors.New("at least one nostr relay is required")
	}
	return &Client{
		secretKey: secretKey,
		publicKey: publicKey,
		relays:    relays,
	}, nil
}

// PublishNote signs a kind-1 text note and publishes it to every configured
// relay. It succeeds if at least one relay accepts the event and returns the
// event id; per-relay failures are logged.
func (c *Client) PublishNote(ctx context.Context, content string) (string, error) {
	event := nostr.Event{
		PubKey:    c.publicKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   content,
	}
	if err := event.Sign(c.secretKey); err != nil {
		return "", fmt.Errorf("failed to sign note: %w", err)
	}

	published := false
	var lastErr error
	for _, relayURL := range c.relays {
		relay, err := nostr.RelayConnect(ctx, relayURL)
		if err != nil {
			log.Printf("level=warn component=nostr msg=\"relay connect failed\" relay=%s err=%v", relayURL, err)
			lastErr = err
			continue
		}
		err = relay.Publish(ctx, event)
		relay.Close()
		if err != nil {
			log.Printf("level=warn component=nostr msg=\"publish failed\" relay=%s err=%v", relayURL, err)
			lastErr = err
			continue
		}
		published = true
	}

	if !published {
		return "", fmt.Errorf("note not accepted by any relay: %w", lastErr)
	}
	return event.ID, nil
}
