package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dusk-indust/vigil/internal/a2a"
	"github.com/dusk-indust/vigil/internal/logging"
)

// AgentStatus is the probe result for one configured agent endpoint.
type AgentStatus struct {
	Role      string `json:"role"`
	Endpoint  string `json:"endpoint"`
	Name      string `json:"name,omitempty"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Detector probes perspective agent endpoints.
type Detector interface {
	Detect(ctx context.Context, endpoints map[string]string) []AgentStatus
}

// Compile-time check.
var _ Detector = (*AgentDetector)(nil)

// AgentDetector fetches each endpoint's agent card concurrently.
type AgentDetector struct {
	client       a2a.Client
	probeTimeout time.Duration
	log          *logging.Logger
}

// NewAgentDetector creates an AgentDetector. A zero timeout means 500ms.
func NewAgentDetector(client a2a.Client, timeout time.Duration, log *logging.Logger) *AgentDetector {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &AgentDetector{client: client, probeTimeout: timeout, log: log}
}

// Detect probes every role endpoint and returns the results sorted by role.
func (d *AgentDetector) Detect(ctx context.Context, endpoints map[string]string) []AgentStatus {
	var (
		mu  sync.Mutex
		out []AgentStatus
		wg  sync.WaitGroup
	)
	for role, ep := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := d.probe(ctx, role, ep)
			mu.Lock()
			out = append(out, st)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	reachable := 0
	for _, st := range out {
		if st.Reachable {
			reachable++
		}
	}
	d.log.Info("agent probe finished", "endpoints", len(out), "reachable", reachable)
	return out
}

func (d *AgentDetector) probe(ctx context.Context, role, endpoint string) (st AgentStatus) {
	st = AgentStatus{Role: role, Endpoint: endpoint}
	defer func() {
		if r := recover(); r != nil {
			st.Reachable = false
			st.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	card, err := d.client.DiscoverAgent(probeCtx, endpoint)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	if card == nil {
		st.Error = "empty agent card"
		return st
	}
	st.Name = card.Name
	st.Reachable = true
	return st
}
