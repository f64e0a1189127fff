// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = base.NewSourceLogObject(logrus.StandardLogger(), "manifest_test", 0)

const goodManifest = `{
	"version": "2.0.0",
	"image_url": "https://updates.example.com/firmware/2.0.0.img",
	"image_size": 1048576,
	"image_sha256": "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	"hardware_target": "wclk-v2",
	"binary_hash": "9f86d081",
	"release_notes": "improved dimming"
}`

func TestFetchFrom(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			requests++
			w.Write([]byte(goodManifest))
		}))
	defer server.Close()

	f := NewFetcher(testLog, nil)
	m, err := f.FetchFrom(context.Background(),
		Source{Name: "primary", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
	assert.Equal(t, "2.0.0", m.Version)
	assert.Equal(t, uint64(1048576), m.ImageSize)
	assert.Equal(t, "wclk-v2", m.HardwareTarget)
	assert.Equal(t, "primary", m.SourceName)
}

func TestFetchFromDoesNotRetry(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			requests++
			http.Error(w, "gone fishing", http.StatusServiceUnavailable)
		}))
	defer server.Close()

	f := NewFetcher(testLog, nil)
	_, err := f.FetchFrom(context.Background(),
		Source{Name: "primary", URL: server.URL})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ManifestError))
	// a single call must issue a single request; failover is the
	// caller's job
	assert.Equal(t, 1, requests)
}

func TestFetchFromMalformed(t *testing.T) {
	testMatrix := map[string]struct {
		body string
		kind types.ErrorKind
	}{
		"not json": {
			body: "<html>moved</html>",
			kind: types.ManifestError,
		},
		"missing version": {
			body: strings.Replace(goodManifest, `"version": "2.0.0",`, "", 1),
			kind: types.ManifestError,
		},
		"missing image url": {
			body: strings.Replace(goodManifest,
				`"image_url": "https://updates.example.com/firmware/2.0.0.img",`, "", 1),
			kind: types.ManifestError,
		},
		"zero size": {
			body: strings.Replace(goodManifest, `"image_size": 1048576,`,
				`"image_size": 0,`, 1),
			kind: types.ManifestError,
		},
		"short sha": {
			body: strings.Replace(goodManifest,
				"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
				"9f86d081", 1),
			kind: types.ManifestError,
		},
	}
	for testname, test := range testMatrix {
		t.Run(testname, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(test.body))
				}))
			defer server.Close()

			f := NewFetcher(testLog, nil)
			_, err := f.FetchFrom(context.Background(),
				Source{Name: "test", URL: server.URL})
			require.Error(t, err)
			assert.True(t, types.IsKind(err, test.kind), "got %v", err)
		})
	}
}

func TestFetchFromWithoutChecksum(t *testing.T) {
	// the transport checksum is advisory; a source may omit it and
	// leave read-back validation as the integrity check
	body := strings.Replace(goodManifest,
		`"image_sha256": "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",`,
		"", 1)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
	defer server.Close()

	f := NewFetcher(testLog, nil)
	m, err := f.FetchFrom(context.Background(),
		Source{Name: "primary", URL: server.URL})
	require.NoError(t, err)
	assert.Empty(t, m.ImageSHA256)
}

func TestFetchFromUnreachable(t *testing.T) {
	f := NewFetcher(testLog, nil)
	// nothing listens on port 1
	_, err := f.FetchFrom(context.Background(),
		Source{Name: "dead", URL: "http://127.0.0.1:1/manifest.json"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.NetworkError), "got %v", err)
}

func TestFetchFromTolerantOfUnknownFields(t *testing.T) {
	body := strings.Replace(goodManifest, `"release_notes": "improved dimming"`,
		`"release_notes": "x", "rollout_percent": 50`, 1)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
	defer server.Close()

	f := NewFetcher(testLog, nil)
	m, err := f.FetchFrom(context.Background(),
		Source{Name: "primary", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", m.Version)
}
