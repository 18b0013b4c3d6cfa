package prerender

import (
	"sync"

	"github.com/chromedp/cdproto/network"
)

// documentStatus records the HTTP status of the main document.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (s *documentStatus) capture(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	s.mu.Lock()
	if s.status == 0 {
		s.status = int(resp.Response.Status)
	}
	s.mu.Unlock()
}

func (s *documentStatus) get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
