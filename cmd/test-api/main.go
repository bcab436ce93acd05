// Package main is a post-deployment smoke test. It calls the unauthenticated
// probes of a running server and, when SENTINEL_SMOKE_TOKEN is set, the
// authenticated /api/auth/me endpoint, printing each status and body. It exits
// non-zero if any call does not return 200.
//
//	go run ./cmd/test-api https://sentinel.example.com
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	base := "http://localhost:8080"
	if len(os.Args) > 1 {
		base = strings.TrimRight(os.Args[1], "/")
	}
	client := &http.Client{Timeout: 10 * time.Second}

	paths := []string{"/health", "/ready", "/version"}
	token := os.Getenv("SENTINEL_SMOKE_TOKEN")
	if token != "" {
		paths = append(paths, "/api/auth/me")
	}

	failed := false
	for _, path := range paths {
		req, err := http.NewRequest(http.MethodGet, base+path, nil)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			failed = true
			continue
		}
		if token != "" && strings.HasPrefix(path, "/api/") {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			failed = true
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		fmt.Printf("%s -> %d\n%s\n\n", path, resp.StatusCode, body)
		if resp.StatusCode != http.StatusOK {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
