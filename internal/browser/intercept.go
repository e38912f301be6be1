package browser

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/metrics"
)

// DefaultBlockedResourceTypes are aborted when resource blocking is enabled.
var DefaultBlockedResourceTypes = []string{"image", "stylesheet", "font"}

const interceptCommandTimeout = 2 * time.Second

// resourceSet holds lowercased CDP resource types.
type resourceSet map[string]struct{}

func newResourceSet(types []string) resourceSet {
	if len(types) == 0 {
		types = DefaultBlockedResourceTypes
	}
	set := make(resourceSet, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func (r resourceSet) shouldBlock(rt network.ResourceType) bool {
	_, ok := r[strings.ToLower(string(rt))]
	return ok
}

func (s *Session) interceptEvent(ev any) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}
	// Listener callbacks must not block; CDP commands are issued off the
	// event loop.
	go s.resolvePaused(paused)
}

func (s *Session) resolvePaused(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return
	}
	cmdCtx, cancel := context.WithTimeout(s.ctx, interceptCommandTimeout)
	defer cancel()
	execCtx := cdp.WithExecutor(cmdCtx, c.Target)

	if s.blocked.shouldBlock(ev.ResourceType) {
		metrics.ObserveBlockedRequest(string(ev.ResourceType))
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
			s.logger.Debug("Failed to abort request",
				zap.String("resource_type", string(ev.ResourceType)),
				zap.String("request_url", requestURL(ev)),
				zap.Error(err),
			)
		}
		return
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
		s.logger.Debug("Failed to continue request",
			zap.String("request_url", requestURL(ev)),
			zap.Error(err),
		)
	}
}

func requestURL(ev *fetch.EventRequestPaused) string {
	if ev.Request == nil {
		return ""
	}
	return ev.Request.URL
}
