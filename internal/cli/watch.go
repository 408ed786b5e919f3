package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"scanbrain/internal/events"
)

type watchMessage struct {
	Type       string             `json:"type"`
	Instance   string             `json:"instance,omitempty"`
	Completion *events.Completion `json:"completion,omitempty"`
}

func buildWatchCommand() *cobra.Command {
	var (
		addr     string
		instance string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream completion events from a running brain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), cmd.OutOrStdout(), addr, instance, count)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "brain base URL")
	cmd.Flags().StringVar(&instance, "instance", "", "only show completions of this instance")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many completions (0 streams forever)")
	return cmd
}

func eventsURL(addr, instance string) (string, error) {
	u, err := url.Parse(strings.TrimRight(addr, "/"))
	if err != nil {
		return "", fmt.Errorf("parse addr: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/events/ws"
	if instance != "" {
		u.RawQuery = url.Values{"instance": {instance}}.Encode()
	}
	return u.String(), nil
}

func watch(ctx context.Context, out io.Writer, addr, instance string, count int) error {
	target, err := eventsURL(addr, instance)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	seen := 0
	for {
		var m watchMessage
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		switch m.Type {
		case "connection_ack":
			fmt.Fprintf(out, "watching %s\n", m.Instance)
		case "completion":
			if m.Completion == nil {
				continue
			}
			c := m.Completion
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", c.CompletedAt.Format("2006-01-02T15:04:05Z07:00"), c.Instance, c.Kind, c.ID)
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}
