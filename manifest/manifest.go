// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package manifest fetches and evaluates the published version
// manifest. A fetch is a single bounded request; retry and failover
// across sources are the caller's policy, not the fetcher's.
package manifest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
)

// FetchTimeout bounds a single manifest request end to end
const FetchTimeout = 15 * time.Second

// maxManifestSize guards against a source serving something that is
// not a manifest
const maxManifestSize = 64 * 1024

// Source is one place the device can ask for the latest release
type Source struct {
	Name string
	URL  string
}

// Fetcher issues manifest requests
type Fetcher struct {
	log     *base.LogObject
	client  *http.Client
	timeout time.Duration
}

// NewFetcher builds a fetcher. A nil cert pool uses the system roots.
func NewFetcher(log *base.LogObject, rootCAs *x509.CertPool) *Fetcher {
	transport := &http.Transport{}
	if rootCAs != nil {
		transport.TLSClientConfig = &tls.Config{RootCAs: rootCAs}
	}
	return &Fetcher{
		log:     log,
		client:  &http.Client{Transport: transport},
		timeout: FetchTimeout,
	}
}

// FetchFrom issues exactly one GET against the source and decodes the
// manifest. There is no retry here: the caller decides whether to try
// another source.
func (f *Fetcher) FetchFrom(ctx context.Context, src Source) (types.VersionManifest, error) {
	var m types.VersionManifest
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return m, types.NewUpdateError(types.ManifestError,
			"bad manifest URL %s: %s", src.URL, err)
	}
	req.Header.Set("Accept", "application/json")

	f.log.Infof("manifest: fetching from %s (%s)", src.Name, src.URL)
	resp, err := f.client.Do(req)
	if err != nil {
		return m, types.NewUpdateError(types.NetworkError,
			"manifest fetch from %s: %s", src.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return m, types.NewUpdateError(types.ManifestError,
			"manifest fetch from %s: status %s", src.Name, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return m, types.NewUpdateError(types.NetworkError,
			"manifest read from %s: %s", src.Name, err)
	}
	if len(body) > maxManifestSize {
		return m, types.NewUpdateError(types.ManifestError,
			"manifest from %s exceeds %d bytes", src.Name, maxManifestSize)
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return m, types.NewUpdateError(types.ManifestError,
			"manifest decode from %s: %s", src.Name, err)
	}
	if err := checkRequired(m); err != nil {
		return m, types.WrapError(types.ManifestError, err)
	}
	m.SourceName = src.Name
	f.log.Infof("manifest: %s offers version %s (%d bytes)",
		src.Name, m.Version, m.ImageSize)
	return m, nil
}

func checkRequired(m types.VersionManifest) error {
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if m.ImageURL == "" {
		return fmt.Errorf("manifest missing image_url")
	}
	if m.ImageSize == 0 {
		return fmt.Errorf("manifest missing image_size")
	}
	// The transport checksum is advisory; an absent one just leaves
	// the read-back validation as the only integrity check.
	if m.ImageSHA256 != "" && len(m.ImageSHA256) != 64 {
		return fmt.Errorf("manifest image_sha256 malformed: %q", m.ImageSHA256)
	}
	return nil
}
