package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wesleyorama2/storeload/internal/load"
)

const (
	readyPollInterval   = 500 * time.Millisecond
	readyRequestTimeout = 2 * time.Second
)

// WaitForReady polls GET url until it answers 200 or timeout elapses.
func WaitForReady(ctx context.Context, client load.Doer, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		err := probe(ctx, client, url)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().Add(readyPollInterval).After(deadline) {
			return fmt.Errorf("service did not become ready in %s: last error: %w", timeout, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

func probe(ctx context.Context, client load.Doer, url string) error {
	ctx, cancel := context.WithTimeout(ctx, readyRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
