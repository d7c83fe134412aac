package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/crm"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/errors"
	"github.com/dusk-indust/vigil/internal/logging"
)

// NoContextSummary is the neutral summary used when the relationship store
// knows nothing about the conversation.
const NoContextSummary = "No CRM context found for this conversation."

// Lookup methods recorded on the context bundle.
const (
	MethodPhone         = "phone"
	MethodEmail         = "email"
	MethodProcessNumber = "process_number"
	MethodPartyName     = "party_name"
)

var (
	processNumberRe = regexp.MustCompile(`\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`)
	partyNameRe     = regexp.MustCompile(`PARTE:\s*(.*?)(?:\s*-\s*GRUPO|\s*$)`)
)

var _ StageExecutor = (*enrichStage)(nil)

// enrichStage mines the relationship store for the conversation's entity
// and has the synthesizer turn it into prose. It never fails the run.
type enrichStage struct {
	env *env
	dir crm.Directory
}

func (s *enrichStage) Stage() string { return department.StageEnrich }

func (s *enrichStage) Execute(ctx context.Context, run *Run) error {
	run.Context = s.enrich(ctx, run)
	return nil
}

func (s *enrichStage) enrich(ctx context.Context, run *Run) *ContextBundle {
	m := &miner{dir: s.dir, log: run.Logger()}
	var hit lookupHit
	switch run.Department.Enrichment.Lookup {
	case department.LookupPhone:
		hit = m.byPhone(ctx, run)
	case department.LookupSubject:
		hit = m.bySubject(ctx, run)
	}
	if hit.entity.Empty() {
		hit.merge(m.byEmail(ctx, run))
	}

	bundle := &ContextBundle{LookupKey: hit.key, LookupMethod: hit.method}
	if hit.entity.Empty() {
		bundle.Summary = NoContextSummary
		return bundle
	}
	bundle.Found = true
	bundle.Entity = hit.entity

	in := agent.Input{
		ConversationID: run.Trigger.ConversationID,
		Source:         run.Snapshot.Source,
		Subject:        run.Snapshot.ThreadSubject(),
		Entity:         hit.entity,
	}
	res := s.env.callAll(ctx, run, department.StageEnrich, []agentCall{{
		spec:   agent.PromptSpec{Role: agent.RoleSynthesizer, TemplateID: run.Department.Enrichment.Template},
		input:  in,
		schema: agent.SynthesizerSchema,
	}})[0]
	if summary := strings.TrimSpace(agent.Get(res.Payload, "summary").String()); res.OK() && summary != "" {
		bundle.Summary = summary
		return bundle
	}
	run.Logger().Warn("synthesizer unavailable, using template summary", "status", string(res.Status), "error", res.Err)
	bundle.Summary = FallbackSummary(hit.entity)
	bundle.Degraded = true
	return bundle
}

type lookupHit struct {
	entity *crm.Entity
	key    string
	method string
}

func (h *lookupHit) merge(other lookupHit) {
	if !other.entity.Empty() {
		*h = other
	}
}

// miner is the deterministic lookup step of enrichment.
type miner struct {
	dir crm.Directory
	log *logging.Logger
}

// byPhone derives the phone from the conversation JID and finds the
// person, then their deal.
func (m *miner) byPhone(ctx context.Context, run *Run) lookupHit {
	phone := crm.NormalizePhone(crm.PhoneFromJID(run.Trigger.ConversationID))
	if phone == "" {
		return lookupHit{}
	}
	hit := lookupHit{entity: &crm.Entity{}, key: phone, method: MethodPhone}
	p, err := m.dir.FindPersonByPhone(ctx, phone)
	if !m.ok(err, "person by phone") {
		return hit
	}
	hit.entity.Person = p
	hit.entity.Deal = m.dealFor(ctx, p)
	return hit
}

// bySubject reads the process number, else the party name, from the
// thread subject and finds the deal, then its person.
func (m *miner) bySubject(ctx context.Context, run *Run) lookupHit {
	subject := run.Snapshot.ThreadSubject()
	if num := processNumberRe.FindString(subject); num != "" {
		hit := lookupHit{entity: &crm.Entity{}, key: num, method: MethodProcessNumber}
		if d, err := m.dir.FindDealByProcessNumber(ctx, num); m.ok(err, "deal by process number") {
			hit.entity.Deal = d
			hit.entity.Person = m.personFor(ctx, d)
			return hit
		}
	}
	if sm := partyNameRe.FindStringSubmatch(subject); len(sm) > 1 && strings.TrimSpace(sm[1]) != "" {
		party := strings.TrimSpace(sm[1])
		hit := lookupHit{entity: &crm.Entity{}, key: party, method: MethodPartyName}
		if d, err := m.dir.FindDealByTitle(ctx, party); m.ok(err, "deal by party name") {
			hit.entity.Deal = d
			hit.entity.Person = m.personFor(ctx, d)
		}
		return hit
	}
	return lookupHit{}
}

// byEmail is the identity fallback: the first client sender that looks
// like an email address.
func (m *miner) byEmail(ctx context.Context, run *Run) lookupHit {
	for _, msg := range run.Snapshot.Sorted() {
		addr := strings.TrimSpace(msg.Sender)
		if !msg.FromClient || !strings.Contains(addr, "@") || strings.HasSuffix(addr, ".whatsapp.net") {
			continue
		}
		p, err := m.dir.FindPersonByEmail(ctx, addr)
		if !m.ok(err, "person by email") {
			return lookupHit{}
		}
		return lookupHit{entity: &crm.Entity{Person: p, Deal: m.dealFor(ctx, p)}, key: addr, method: MethodEmail}
	}
	return lookupHit{}
}

func (m *miner) dealFor(ctx context.Context, p *crm.Person) *crm.Deal {
	d, err := m.dir.FindDealByPersonName(ctx, p.Name)
	if !m.ok(err, "deal by person name") {
		return nil
	}
	return d
}

func (m *miner) personFor(ctx context.Context, d *crm.Deal) *crm.Person {
	if d.PersonID == "" {
		return nil
	}
	p, err := m.dir.GetPerson(ctx, d.PersonID)
	if !m.ok(err, "person by id") {
		return nil
	}
	return p
}

// ok reports a successful lookup. Errors other than not-found are logged
// and treated as not-found.
func (m *miner) ok(err error, what string) bool {
	if err == nil {
		return true
	}
	if !errors.Is(err, errors.ErrNotFound) {
		m.log.Warn("crm lookup failed", "lookup", what, "error", err)
	}
	return false
}
