package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/dusk-indust/vigil/internal/a2a"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStage struct {
	name string
	run  func(ctx context.Context, run *Run) error
}

func (s *stubStage) Stage() string { return s.name }

func (s *stubStage) Execute(ctx context.Context, run *Run) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, run)
}

func TestRouter_Route(t *testing.T) {
	c, err := department.Load("")
	require.NoError(t, err)
	r := NewRouter(c)
	for _, s := range []string{department.StageEnrich, department.StageAnalyze, department.StageAudit, department.StageDecide} {
		r.RegisterExecutor(&stubStage{name: s})
	}

	d, execs, err := r.Route("WhatsApp")
	require.NoError(t, err)
	assert.Equal(t, "negotiation-chat", d.Name)
	var stages []string
	for _, e := range execs {
		stages = append(stages, e.Stage())
	}
	assert.Equal(t, d.Stages, stages)

	_, _, err = r.Route("sms")
	assert.ErrorIs(t, err, errors.ErrUnknownDepartment)
}

func TestRouter_MissingExecutor(t *testing.T) {
	c, err := department.Load("")
	require.NoError(t, err)
	r := NewRouter(c)
	r.RegisterExecutor(&stubStage{name: department.StageAnalyze})

	_, _, err = r.Route("email")
	assert.ErrorContains(t, err, `no executor registered for stage "enrich"`)
}

// cardClient serves agent cards from a map; unknown endpoints fail.
type cardClient struct {
	a2a.Client
	cards map[string]*a2a.AgentCard
	delay map[string]time.Duration
}

func (c *cardClient) DiscoverAgent(ctx context.Context, baseURL string) (*a2a.AgentCard, error) {
	if d := c.delay[baseURL]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	card, ok := c.cards[baseURL]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return card, nil
}

func TestAgentDetector_Detect(t *testing.T) {
	client := &cardClient{
		cards: map[string]*a2a.AgentCard{
			"http://localhost:9101": {Name: "vigil-explicit"},
			"http://localhost:9102": {Name: "vigil-inferred"},
		},
		delay: map[string]time.Duration{"http://localhost:9102": time.Second},
	}
	d := NewAgentDetector(client, 50*time.Millisecond, nil)

	got := d.Detect(context.Background(), map[string]string{
		"inferred": "http://localhost:9102",
		"explicit": "http://localhost:9101",
		"lexical":  "http://localhost:9103",
	})
	require.Len(t, got, 3)

	assert.Equal(t, AgentStatus{Role: "explicit", Endpoint: "http://localhost:9101", Name: "vigil-explicit", Reachable: true}, got[0])
	assert.Equal(t, "inferred", got[1].Role)
	assert.False(t, got[1].Reachable)
	assert.Contains(t, got[1].Error, "deadline exceeded")
	assert.Equal(t, "lexical", got[2].Role)
	assert.Equal(t, "connection refused", got[2].Error)
}
