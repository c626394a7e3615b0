package apiclient

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Endpoint is one candidate base URL with its circuit breaker.
type Endpoint struct {
	BaseURL string
	breaker *gobreaker.CircuitBreaker[*Response]
}

// EndpointStatus is a point-in-time view of an endpoint.
type EndpointStatus struct {
	BaseURL   string
	Active    bool
	Healthy   bool
	Checked   bool
	LastCheck time.Time
	LastError string
	Breaker   string
}

// EndpointSet is the ordered list of endpoints with one marked active.
// Only the Client mutates it.
type EndpointSet struct {
	endpoints []*Endpoint

	mu      sync.RWMutex
	active  int
	checked []time.Time
	healthy []bool
	lastErr []string
}

func newEndpointSet(urls []string, breaker BreakerSettings) (*EndpointSet, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}

	set := &EndpointSet{
		checked: make([]time.Time, len(urls)),
		healthy: make([]bool, len(urls)),
		lastErr: make([]string, len(urls)),
	}
	seen := make(map[string]bool, len(urls))
	for i, u := range urls {
		base := strings.TrimRight(strings.TrimSpace(u), "/")
		if base == "" {
			return nil, fmt.Errorf("endpoint[%d]: empty url", i)
		}
		if seen[base] {
			return nil, fmt.Errorf("endpoint[%d]: duplicate url %s", i, base)
		}
		seen[base] = true
		set.endpoints = append(set.endpoints, &Endpoint{
			BaseURL: base,
			breaker: newBreaker(base, breaker),
		})
	}
	return set, nil
}

func newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker[*Response] {
	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: s.OnStateChange,
	})
}

// Len returns the number of endpoints.
func (s *EndpointSet) Len() int {
	return len(s.endpoints)
}

// Active returns the active endpoint and its index.
func (s *EndpointSet) Active() (int, *Endpoint) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.endpoints[s.active]
}

func (s *EndpointSet) get(i int) *Endpoint {
	return s.endpoints[i]
}

// setActive marks i active and reports whether it changed.
func (s *EndpointSet) setActive(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == i {
		return false
	}
	s.active = i
	return true
}

func (s *EndpointSet) record(i int, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked[i] = at
	s.healthy[i] = err == nil
	s.lastErr[i] = ""
	if err != nil {
		s.lastErr[i] = err.Error()
	}
}

// others returns every index except skip, in list order.
func (s *EndpointSet) others(skip int) []int {
	out := make([]int, 0, len(s.endpoints)-1)
	for i := range s.endpoints {
		if i != skip {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot returns the status of every endpoint in list order.
func (s *EndpointSet) Snapshot() []EndpointStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EndpointStatus, len(s.endpoints))
	for i, ep := range s.endpoints {
		out[i] = EndpointStatus{
			BaseURL:   ep.BaseURL,
			Active:    i == s.active,
			Healthy:   s.healthy[i],
			Checked:   !s.checked[i].IsZero(),
			LastCheck: s.checked[i],
			LastError: s.lastErr[i],
			Breaker:   ep.breaker.State().String(),
		}
	}
	return out
}
