package grpcstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "Remote evidence store served by evidence-grpcd",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Keys:        []string{"target", "timeout", "max-msg-bytes"},
		Open: func(settings map[string]string) (evidence.Store, func() error, error) {
			target := strings.TrimSpace(settings["target"])
			if target == "" {
				return nil, nil, fmt.Errorf("grpcstore: missing target")
			}
			var opts DialOptions
			if v := settings["max-msg-bytes"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpcstore: max-msg-bytes: %w", err)
				}
				opts.MaxMsgBytes = n
			}
			client, err := Dial(target, opts)
			if err != nil {
				return nil, nil, err
			}
			if v := settings["timeout"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					_ = client.Close()
					return nil, nil, fmt.Errorf("grpcstore: timeout: %w", err)
				}
				client.Timeout = d
			}
			return client, client.Close, nil
		},
	})
}
