// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package downloader streams a firmware image from an update source
// into the standby slot. The transfer runs in fixed-size chunks with a
// rolling digest; cancellation is only honored between chunks so a
// chunk is never half-applied.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
)

const (
	// chunkSize for each increment of download
	chunkSize int64 = 64 * 1024
	// inactivityTimeout aborts the transfer when no payload byte
	// arrives for this long
	inactivityTimeout = 30 * time.Second
	// downloadTimeout bounds the whole transfer regardless of progress
	downloadTimeout = 10 * time.Minute
	// progressStep throttles progress reporting to whole steps
	progressStep = 5
)

// ErrCancelled is returned when the transfer stops on request
var ErrCancelled = errors.New("download cancelled")

// ProgressFunc receives throttled transfer progress
type ProgressFunc func(written uint64, total uint64, percent uint)

// Request describes one image transfer
type Request struct {
	URL    string
	Size   uint64 // declared image size in bytes
	SHA256 string // hex digest over the full image, empty skips the compare

	// Dst receives the image bytes, typically the standby slot writer
	Dst io.Writer
	// Progress may be nil
	Progress ProgressFunc
	// CancelChan aborts the transfer at the next chunk boundary
	CancelChan <-chan struct{}
}

// Downloader performs image transfers
type Downloader struct {
	log        *base.LogObject
	client     *http.Client
	inactivity time.Duration
	deadline   time.Duration
}

// New builds a downloader
func New(log *base.LogObject) *Downloader {
	return &Downloader{
		log:        log,
		client:     &http.Client{},
		inactivity: inactivityTimeout,
		deadline:   downloadTimeout,
	}
}

// Download runs the transfer to completion, returning only once every
// byte is written to req.Dst and the rolling digest matches. The
// caller still must validate the image from the slot it landed in.
func (d *Downloader) Download(ctx context.Context, req Request) error {
	if req.Size == 0 {
		return types.NewUpdateError(types.DownloadError,
			"download of %s: declared size is zero", req.URL)
	}
	ctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	// The inactivity timer cancels the request context from its own
	// goroutine; stalled distinguishes that from the wall-clock
	// deadline.
	var stalled atomic.Bool
	inactivityTimer := time.AfterFunc(d.inactivity, func() {
		stalled.Store(true)
		cancel()
	})
	defer inactivityTimer.Stop()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return types.NewUpdateError(types.DownloadError,
			"bad image URL %s: %s", req.URL, err)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return types.NewUpdateError(types.NetworkError,
			"download of %s: %s", req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.NewUpdateError(types.DownloadError,
			"download of %s: status %s", req.URL, resp.Status)
	}
	if resp.ContentLength > 0 && uint64(resp.ContentLength) != req.Size {
		d.log.Warnf("download of %s: content-length %d vs declared %d",
			req.URL, resp.ContentLength, req.Size)
	}

	hasher := sha256.New()
	dst := io.MultiWriter(req.Dst, hasher)

	var written uint64
	lastReported := -1
	copyErr := error(nil)
	for {
		if req.CancelChan != nil {
			select {
			case <-req.CancelChan:
				d.log.Infof("download of %s cancelled at %d of %d bytes",
					req.URL, written, req.Size)
				return ErrCancelled
			default:
			}
		}
		var n int64
		n, copyErr = io.CopyN(dst, resp.Body, chunkSize)
		written += uint64(n)
		if n > 0 {
			inactivityTimer.Reset(d.inactivity)
		}
		if written > req.Size {
			return types.NewUpdateError(types.DownloadError,
				"download of %s: received %d bytes, declared %d",
				req.URL, written, req.Size)
		}
		if req.Progress != nil {
			percent := int(written * 100 / req.Size)
			if percent-lastReported >= progressStep || written == req.Size {
				lastReported = percent
				req.Progress(written, req.Size, uint(percent))
			}
		}
		if copyErr != nil {
			break
		}
	}
	if !errors.Is(copyErr, io.EOF) {
		if stalled.Load() {
			return types.NewUpdateError(types.DownloadError,
				"download of %s stalled after %d bytes", req.URL, written)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.NewUpdateError(types.DownloadError,
				"download of %s exceeded %v", req.URL, d.deadline)
		}
		return types.NewUpdateError(types.NetworkError,
			"download of %s after %d bytes: %s", req.URL, written, copyErr)
	}
	if written < req.Size {
		return types.NewUpdateError(types.DownloadError,
			"truncated download of %s: %d of %d bytes",
			req.URL, written, req.Size)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if req.SHA256 != "" && !strings.EqualFold(digest, req.SHA256) {
		return types.NewUpdateError(types.DownloadError,
			"download of %s: digest %s, manifest %s",
			req.URL, digest, req.SHA256)
	}
	d.log.Infof("download of %s complete: %d bytes, sha256 %s",
		req.URL, written, digest)
	return nil
}

// ComputeShaStream computes the sha256 of a stream; used for the
// running image's hash report
func ComputeShaStream(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("computeShaStream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
