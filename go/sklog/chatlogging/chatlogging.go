// Package chatlogging implements sklogimpl.Logger by posting entries to a
// SynoChat incoming webhook. Only warnings and above are forwarded; the
// webhook is a paging channel, not a log archive.
package chatlogging

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.h2hdb.org/infra/go/sklog/sklogimpl"
)

const postTimeout = 10 * time.Second

type chatlog struct {
	webhookURL string
	client     *http.Client
}

// New returns a sklogimpl.Logger that posts warning-and-above entries to the
// given SynoChat webhook URL.
func New(webhookURL string) sklogimpl.Logger {
	return &chatlog{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: postTimeout},
	}
}

// Log implements sklogimpl.Logger.
func (c *chatlog) Log(_ int, severity sklogimpl.Severity, format string, args ...interface{}) {
	if severity < sklogimpl.Warning {
		return
	}
	var msg string
	if format == "" {
		msg = fmt.Sprint(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
	}
	msg = sklogimpl.Truncate(msg)

	// SynoChat expects a form field "payload" holding a JSON object with a
	// "text" member. Errors posting a log line are swallowed; logging must
	// never take the process down.
	payload := fmt.Sprintf(`{"text": %q}`, severity.String()+" "+msg)
	form := url.Values{"payload": {payload}}
	resp, err := c.client.Post(c.webhookURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// Flush implements sklogimpl.Logger.
func (c *chatlog) Flush() {
	// noop
}
