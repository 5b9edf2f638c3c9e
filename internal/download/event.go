package download

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/civicsignal/feewatch/schedule"
)

// Event acquires document bytes by racing a browser download event
// against the navigation response, with a bounded timeout. Used for
// sessions whose network layer can't be queried for authenticated
// bytes directly: servers that force Content-Disposition attachments
// trigger the download branch, inline documents the response branch.
//
// A navigation error other than the chromium download-abort is treated
// as a definite acquisition failure, not as the timeout outcome.
func Event(ctx context.Context, browser *rod.Browser, page *rod.Page, rawURL string, timeout time.Duration, dir string) ([]byte, error) {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	dlCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  dir,
		EventsEnabled: true,
	}.Call(browser)
	if err != nil {
		return nil, &schedule.AcquisitionError{Op: "download", Err: fmt.Errorf("set download behavior: %w", err)}
	}

	// Branch 1: a completed download artifact, named by GUID.
	downloadCh := make(chan string, 1)
	var guid string
	waitDownload := browser.Context(dlCtx).EachEvent(func(e *proto.BrowserDownloadProgress) bool {
		switch e.State {
		case proto.BrowserDownloadProgressStateCompleted:
			guid = e.GUID
			return true
		case proto.BrowserDownloadProgressStateCanceled:
			return true
		}
		return false
	})
	go func() {
		waitDownload()
		downloadCh <- guid
	}()

	// Branch 2: the navigation's main document response.
	responseCh := make(chan proto.NetworkRequestID, 1)
	var reqID proto.NetworkRequestID
	waitResponse := page.Context(dlCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			reqID = e.RequestID
			return true
		}
		return false
	})
	go func() {
		waitResponse()
		responseCh <- reqID
	}()

	if err := page.Context(dlCtx).Navigate(rawURL); err != nil && !isDownloadAbort(err) {
		return nil, &schedule.AcquisitionError{Op: "navigate", Err: err}
	}

	select {
	case id := <-downloadCh:
		if id == "" {
			return nil, &schedule.AcquisitionError{Op: "download", Err: fmt.Errorf("download canceled")}
		}
		return readArtifact(dlCtx, filepath.Join(dir, id))

	case id := <-responseCh:
		res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page.Context(dlCtx))
		if err != nil {
			return nil, &schedule.AcquisitionError{Op: "download", Err: fmt.Errorf("response body: %w", err)}
		}
		if res.Base64Encoded {
			return base64.StdEncoding.DecodeString(res.Body)
		}
		return []byte(res.Body), nil

	case <-dlCtx.Done():
		return nil, &schedule.AcquisitionError{Op: "download", Err: fmt.Errorf("no download or response for %s", rawURL)}
	}
}

// isDownloadAbort matches chromium cancelling a navigation because it
// converted into a download.
func isDownloadAbort(err error) bool {
	return strings.Contains(err.Error(), "ERR_ABORTED")
}

// readArtifact polls for the downloaded file; the completion event can
// land a beat before the final rename on slow filesystems.
func readArtifact(ctx context.Context, path string) ([]byte, error) {
	for {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		select {
		case <-ctx.Done():
			return nil, &schedule.AcquisitionError{Op: "download", Err: fmt.Errorf("artifact %s: %w", path, ctx.Err())}
		case <-time.After(100 * time.Millisecond):
		}
	}
}
