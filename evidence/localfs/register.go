package localfs

import (
	"fmt"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Evidence kept in a local directory",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Keys:        []string{"dir"},
		Open: func(settings map[string]string) (evidence.Store, func() error, error) {
			dir := settings["dir"]
			if dir == "" {
				return nil, nil, fmt.Errorf("localfs: missing dir")
			}
			s, err := New(dir)
			return s, nil, err
		},
	})
}
