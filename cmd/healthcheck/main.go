// Health probe for the chain node. Calls /ext/health with a 5 second
// timeout, prints a one-line status and exits 0 (healthy), 1 (unreachable)
// or 2 (unhealthy).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"mevpipe/internal/config"
)

const probeTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("unreachable: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := healthURL(cfg.ActiveNetwork().RPCURL)
	if err != nil {
		fmt.Printf("unreachable: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(endpoint)
	if err != nil {
		fmt.Printf("unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var body struct {
		Result struct {
			Healthy bool `json:"healthy"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Printf("unhealthy: malformed response: %v\n", err)
		os.Exit(2)
	}

	if !body.Result.Healthy {
		fmt.Println("unhealthy")
		os.Exit(2)
	}

	fmt.Println("healthy")
}

// healthURL rewrites the node's RPC URL to its /ext/health endpoint.
func healthURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", err
	}
	u.Path = "/ext/health"
	u.RawQuery = ""
	return u.String(), nil
}
