package download

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/civicsignal/feewatch/schedule"
)

// fetchJS pulls the document through the page's own fetch, so cookies
// and session headers established during navigation ride along. The
// body comes back base64 packed; CDP eval results are JSON only.
const fetchJS = `async (url) => {
	const resp = await fetch(url, { credentials: "include", redirect: "follow" });
	if (!resp.ok) {
		return { status: resp.status, statusText: resp.statusText, body: "" };
	}
	const buf = await resp.arrayBuffer();
	const bytes = new Uint8Array(buf);
	let bin = "";
	const chunk = 0x8000;
	for (let i = 0; i < bytes.length; i += chunk) {
		bin += String.fromCharCode.apply(null, bytes.subarray(i, i + chunk));
	}
	return { status: resp.status, statusText: resp.statusText, body: btoa(bin) };
}`

// Direct acquires document bytes by issuing a request through the
// session's authenticated context. Non-2xx statuses fail with the
// status code and reason phrase.
func Direct(ctx context.Context, page *rod.Page, rawURL string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(reqCtx)

	// Document endpoints behind CDNs sometimes vary on Accept.
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: map[string]gson.JSON{
			"Accept": gson.New("application/pdf,text/html,application/xhtml+xml,*/*;q=0.8"),
		},
	}.Call(p)

	res, err := p.Eval(fetchJS, rawURL)
	if err != nil {
		return nil, &schedule.AcquisitionError{Op: "request", Err: err}
	}

	status := res.Value.Get("status").Int()
	if status < 200 || status > 299 {
		reason := res.Value.Get("statusText").Str()
		return nil, &schedule.AcquisitionError{
			Op:         "request",
			StatusCode: status,
			Err:        fmt.Errorf("http %d %s for %s", status, reason, rawURL),
		}
	}

	body, err := base64.StdEncoding.DecodeString(res.Value.Get("body").Str())
	if err != nil {
		return nil, &schedule.AcquisitionError{Op: "request", Err: fmt.Errorf("decode body: %w", err)}
	}
	if len(body) == 0 {
		return nil, &schedule.AcquisitionError{Op: "request", Err: fmt.Errorf("empty body for %s", rawURL)}
	}
	return body, nil
}
