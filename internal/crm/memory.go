package crm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dusk-indust/vigil/internal/errors"
	"gopkg.in/yaml.v3"
)

// Compile-time interface check.
var _ Directory = (*MemDirectory)(nil)

// MemDirectory is an in-memory Directory. Lookups are case-insensitive
// and phones are compared in normalized form.
type MemDirectory struct {
	mu      sync.RWMutex
	persons []Person
	deals   []Deal
}

// Fixture is the YAML layout accepted by LoadFixture.
type Fixture struct {
	Persons []Person `yaml:"persons"`
	Deals   []Deal   `yaml:"deals"`
}

// NewMemDirectory creates a directory holding the given records.
func NewMemDirectory(persons []Person, deals []Deal) *MemDirectory {
	return &MemDirectory{persons: persons, deals: deals}
}

// LoadFixture reads a YAML fixture file. An empty path yields an empty
// directory.
func LoadFixture(path string) (*MemDirectory, error) {
	if path == "" {
		return NewMemDirectory(nil, nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crm: read fixture: %w", err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("crm: decode fixture %s: %w", path, err)
	}
	return NewMemDirectory(fx.Persons, fx.Deals), nil
}

func notFound(kind, key string) error {
	return fmt.Errorf("crm: %s %q: %w", kind, key, errors.ErrNotFound)
}

// FindPersonByPhone matches any of a person's phones after normalization.
func (d *MemDirectory) FindPersonByPhone(_ context.Context, phone string) (*Person, error) {
	want := NormalizePhone(phone)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.persons {
		for _, p := range d.persons[i].Phones {
			if want != "" && NormalizePhone(p) == want {
				person := d.persons[i]
				return &person, nil
			}
		}
	}
	return nil, notFound("person with phone", phone)
}

// FindPersonByEmail matches an exact email address.
func (d *MemDirectory) FindPersonByEmail(_ context.Context, email string) (*Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.persons {
		for _, e := range d.persons[i].Emails {
			if strings.EqualFold(strings.TrimSpace(e), strings.TrimSpace(email)) {
				person := d.persons[i]
				return &person, nil
			}
		}
	}
	return nil, notFound("person with email", email)
}

// GetPerson returns the person with the given id.
func (d *MemDirectory) GetPerson(_ context.Context, id string) (*Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.persons {
		if d.persons[i].ID == id {
			person := d.persons[i]
			return &person, nil
		}
	}
	return nil, notFound("person", id)
}

// FindDealByPersonName returns the first deal whose person has that name.
func (d *MemDirectory) FindDealByPersonName(_ context.Context, name string) (*Deal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.persons {
		if !strings.EqualFold(d.persons[i].Name, name) {
			continue
		}
		for j := range d.deals {
			if d.deals[j].PersonID == d.persons[i].ID {
				deal := d.deals[j]
				return &deal, nil
			}
		}
	}
	return nil, notFound("deal for person", name)
}

// FindDealByProcessNumber matches the deal's process number field.
func (d *MemDirectory) FindDealByProcessNumber(_ context.Context, number string) (*Deal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.deals {
		if d.deals[i].ProcessNumber != "" && d.deals[i].ProcessNumber == number {
			deal := d.deals[i]
			return &deal, nil
		}
	}
	return nil, notFound("deal with process number", number)
}

// FindDealByTitle returns the first deal whose title contains term.
func (d *MemDirectory) FindDealByTitle(_ context.Context, term string) (*Deal, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	d.mu.RLock()
	defer d.mu.RUnlock()
	if needle != "" {
		for i := range d.deals {
			if strings.Contains(strings.ToLower(d.deals[i].Title), needle) {
				deal := d.deals[i]
				return &deal, nil
			}
		}
	}
	return nil, notFound("deal with title", term)
}
