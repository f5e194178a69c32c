package pinata

import (
	"os"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "pinata",
		Description: "Pinata pinning service with gateway reads",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Keys:        []string{"api-key", "api-secret", "endpoint", "gateway"},
		Open: func(settings map[string]string) (evidence.Store, func() error, error) {
			opts := Options{
				APIKey:    settings["api-key"],
				APISecret: settings["api-secret"],
				Endpoint:  settings["endpoint"],
				Gateway:   settings["gateway"],
			}
			if opts.APIKey == "" {
				opts.APIKey = os.Getenv("PINATA_API_KEY")
			}
			if opts.APISecret == "" {
				opts.APISecret = os.Getenv("PINATA_API_SECRET")
			}
			s, err := New(opts)
			return s, nil, err
		},
	})
}
