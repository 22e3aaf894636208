package main

import (
	"context"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const checkIPURL = "https://checkip.amazonaws.com/"

var httpClient = &http.Client{Timeout: 5 * time.Second}

// discoverAddress asks an external service for the public IPv4 address of
// this host.
func discoverAddress(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "unable to build address discovery request")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "unable to discover public address")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("address discovery returned %s", resp.Status)
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "unable to read address discovery response")
	}
	addr := strings.TrimSpace(string(body))
	if ip := net.ParseIP(addr); ip == nil || ip.To4() == nil {
		return "", errors.Errorf("address discovery returned %q, not an IPv4 address", addr)
	}
	log.WithField("address", addr).Info("discovered public address")
	return addr, nil
}
