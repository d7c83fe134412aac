// Package crm defines the read-only relationship-store contract the
// enrichment stage depends on, plus a YAML-backed directory for local runs.
package crm

import (
	"context"
	"strings"
	"unicode"
)

// Person is a contact record.
type Person struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	Owner  string   `json:"owner,omitempty" yaml:"owner"`
	Emails []string `json:"emails,omitempty" yaml:"emails"`
	Phones []string `json:"phones,omitempty" yaml:"phones"`
}

// Deal is a negotiation record linked to a person.
type Deal struct {
	ID            string  `json:"id" yaml:"id"`
	Title         string  `json:"title" yaml:"title"`
	Status        string  `json:"status" yaml:"status"`
	Value         float64 `json:"value" yaml:"value"`
	Currency      string  `json:"currency,omitempty" yaml:"currency"`
	PersonID      string  `json:"personId,omitempty" yaml:"person_id"`
	ProcessNumber string  `json:"processNumber,omitempty" yaml:"process_number"`
	NextActivity  string  `json:"nextActivity,omitempty" yaml:"next_activity"`
	Notes         string  `json:"notes,omitempty" yaml:"notes"`
}

// Entity is what the miner step hands to the synthesizer.
type Entity struct {
	Person *Person `json:"person,omitempty"`
	Deal   *Deal   `json:"deal,omitempty"`
}

// Empty reports whether neither a person nor a deal was found.
func (e *Entity) Empty() bool {
	return e == nil || (e.Person == nil && e.Deal == nil)
}

// Directory is the lookup surface of the relationship store. Every method
// returns errors.ErrNotFound (wrapped) when nothing matches. The pipeline
// never writes through it.
type Directory interface {
	FindPersonByPhone(ctx context.Context, phone string) (*Person, error)
	FindPersonByEmail(ctx context.Context, email string) (*Person, error)
	GetPerson(ctx context.Context, id string) (*Person, error)
	FindDealByPersonName(ctx context.Context, name string) (*Deal, error)
	FindDealByProcessNumber(ctx context.Context, number string) (*Deal, error)
	FindDealByTitle(ctx context.Context, term string) (*Deal, error)
}

// NormalizePhone reduces a phone number to the national form used as a
// lookup key: digits only, the 55 country code dropped, and the mobile 9
// inserted after the area code when a 10-digit number remains.
func NormalizePhone(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, raw)

	if strings.HasPrefix(digits, "55") && len(digits) >= 12 {
		digits = digits[2:]
	}
	if len(digits) == 10 {
		digits = digits[:2] + "9" + digits[2:]
	}
	return digits
}

// PhoneFromJID extracts the phone part of a messaging JID
// ("5511987654321@s.whatsapp.net").
func PhoneFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
