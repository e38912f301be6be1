package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// WaitUntil values accepted in configuration and the page lifecycle event each
// one waits for.
var waitEvents = map[string]string{
	"domcontentloaded": "DOMContentLoaded",
	"load":             "load",
	"networkidle0":     "networkIdle",
	"networkidle2":     "networkAlmostIdle",
}

// DefaultWaitUntil waits for minimal DOM readiness.
const DefaultWaitUntil = "domcontentloaded"

func lifecycleEvent(waitUntil string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(waitUntil))
	if key == "" {
		key = DefaultWaitUntil
	}
	event, ok := waitEvents[key]
	if !ok {
		return "", fmt.Errorf("unsupported wait policy %q", waitUntil)
	}
	return event, nil
}

// navigateAndWait issues Page.navigate and blocks until the lifecycle event
// for that navigation fires. The listener is installed before navigating so
// fast pages cannot fire the event unobserved.
func navigateAndWait(url, event string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		listenCtx, stopListening := context.WithCancel(ctx)
		defer stopListening()

		fired := make(chan *page.EventLifecycleEvent, 32)
		chromedp.ListenTarget(listenCtx, func(ev any) {
			e, ok := ev.(*page.EventLifecycleEvent)
			if !ok || e.Name != event {
				return
			}
			select {
			case fired <- e:
			default:
			}
		})

		frameID, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("page navigate: %w", err)
		}
		if errorText != "" {
			return fmt.Errorf("%s at %s", errorText, url)
		}

		for {
			select {
			case e := <-fired:
				if matchesNavigation(e, frameID, loaderID) {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func matchesNavigation(e *page.EventLifecycleEvent, frameID cdp.FrameID, loaderID cdp.LoaderID) bool {
	if e.FrameID != frameID {
		return false
	}
	// Same-document navigations carry no loader.
	return loaderID == "" || e.LoaderID == loaderID
}
