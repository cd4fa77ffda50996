package cmd

import (
	"fmt"
	"os"

	"ibstudy-server/client"
	"ibstudy-server/swcache"
)

// newClient builds an API client for the configured server. Requests go
// through the caching transport so repeated subject lookups stay local.
func newClient() *client.Client {
	c := client.New(cfg.Client.BaseURL, cfg.Client.Token, swcache.New(nil), 2*cfg.AI.TimeoutSeconds)
	c.Hooks = client.Hooks{
		OnUnauthorized: func(loginPath string) {
			fmt.Fprintf(os.Stderr, "Not signed in. Log in at %s%s or set CLIENT.TOKEN.\n", cfg.Client.BaseURL, loginPath)
		},
		OnInsufficientCredits: func(credits int) {
			fmt.Fprintf(os.Stderr, "Out of AI credits (%d left).\n", credits)
		},
		OnUpgradeRequired: func(plan string) {
			fmt.Fprintf(os.Stderr, "This needs the %s plan.\n", plan)
		},
	}
	return c
}
