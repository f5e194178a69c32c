package kubo

import (
	"os"
	"strconv"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "kubo",
		Description: "Local Kubo repository via the ipfs CLI",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Keys:        []string{"bin", "ipfs-path", "pin"},
		Open: func(settings map[string]string) (evidence.Store, func() error, error) {
			opts := Options{Bin: settings["bin"]}
			if p := settings["ipfs-path"]; p != "" {
				opts.Env = append(os.Environ(), "IPFS_PATH="+p)
			}
			if v := settings["pin"]; v != "" {
				pin, err := strconv.ParseBool(v)
				if err != nil {
					return nil, nil, err
				}
				opts.Pin = pin
			}
			return New(opts), nil, nil
		},
	})
}
