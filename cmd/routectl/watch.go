package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func watchCmd() *cobra.Command {
	var admin, topic string
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream job lifecycle events from a worker's admin server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := eventsURL(admin, topic)
			if err != nil {
				return err
			}
			c, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", u, err)
			}
			defer func() { _ = c.Close() }()
			go func() {
				<-cmd.Context().Done()
				_ = c.Close()
			}()

			out := cmd.OutOrStdout()
			seen := 0
			for count <= 0 || seen < count {
				var m wsMessage
				if err := c.ReadJSON(&m); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return fmt.Errorf("read: %w", err)
				}
				if m.Type == "connection_ack" {
					continue
				}
				data, _ := json.Marshal(m.Data)
				fmt.Fprintf(out, "%s %s\n", m.Type, data)
				seen++
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", envOr("ADMIN_URL", "http://localhost:8080"), "Worker admin base URL")
	cmd.Flags().StringVar(&topic, "topic", "", "Correlation id to follow (default: all jobs)")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0: run until interrupted)")
	return cmd
}

// eventsURL maps an http(s) admin base URL to its ws(s) event stream.
func eventsURL(admin, topic string) (string, error) {
	u, err := url.Parse(strings.TrimRight(admin, "/"))
	if err != nil {
		return "", fmt.Errorf("admin url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("admin url: unsupported scheme %q", u.Scheme)
	}
	u.Path += "/v1/events/ws"
	if topic != "" {
		u.RawQuery = url.Values{"topic": {topic}}.Encode()
	}
	return u.String(), nil
}
