package agent

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// FieldType is the JSON type expected at a schema path.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

// Field declares one dot-separated path in an agent's JSON output.
type Field struct {
	Path     string    `yaml:"path" json:"path"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	// Nullable allows an explicit null for a required field. Extraction
	// fields are nullable: "not stated" is a valid answer.
	Nullable bool     `yaml:"nullable" json:"nullable"`
	Enum     []string `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Schema is the structural contract of one agent output.
type Schema struct {
	Name   string  `yaml:"name" json:"name"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Violation is one structural mismatch between a payload and its schema.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// Validate checks presence, type and enum membership of every declared
// field. Undeclared fields are ignored. A nil or non-object payload yields
// a single root violation.
func (s Schema) Validate(payload []byte) []Violation {
	if len(payload) == 0 || !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return []Violation{{Path: "$", Message: "response is not a JSON object"}}
	}

	var out []Violation
	for _, f := range s.Fields {
		res := gjson.GetBytes(payload, escapePath(f.Path))
		if !res.Exists() {
			if f.Required {
				out = append(out, Violation{Path: f.Path, Message: "required field is missing"})
			}
			continue
		}
		if res.Type == gjson.Null {
			if f.Required && !f.Nullable {
				out = append(out, Violation{Path: f.Path, Message: "must not be null"})
			}
			continue
		}
		if msg := checkType(f, res); msg != "" {
			out = append(out, Violation{Path: f.Path, Message: msg})
		}
	}
	return out
}

func checkType(f Field, res gjson.Result) string {
	ok := true
	switch f.Type {
	case TypeString:
		ok = res.Type == gjson.String
	case TypeNumber:
		ok = res.Type == gjson.Number
	case TypeInteger:
		ok = res.Type == gjson.Number && res.Num == math.Trunc(res.Num)
	case TypeBoolean:
		ok = res.IsBool()
	case TypeObject:
		ok = res.IsObject()
	case TypeArray:
		ok = res.IsArray()
	case TypeAny, "":
	}
	if !ok {
		return fmt.Sprintf("want %s, got %s", f.Type, describe(res))
	}
	if len(f.Enum) > 0 && res.Type == gjson.String {
		for _, v := range f.Enum {
			if strings.EqualFold(v, res.String()) {
				return ""
			}
		}
		return fmt.Sprintf("value %q not in %s", res.String(), strings.Join(f.Enum, "|"))
	}
	return ""
}

func describe(res gjson.Result) string {
	switch {
	case res.IsObject():
		return "object"
	case res.IsArray():
		return "array"
	case res.IsBool():
		return "boolean"
	case res.Type == gjson.Number:
		return "number"
	case res.Type == gjson.String:
		return "string"
	default:
		return res.Type.String()
	}
}

// Leaves returns the paths of fields with no declared children, in
// declaration order. These are the units that carry provenance.
func (s Schema) Leaves() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Type == TypeObject && s.hasChildren(f.Path) {
			continue
		}
		out = append(out, f.Path)
	}
	return out
}

func (s Schema) hasChildren(path string) bool {
	prefix := path + "."
	for _, f := range s.Fields {
		if strings.HasPrefix(f.Path, prefix) {
			return true
		}
	}
	return false
}

// Has reports whether path is declared.
func (s Schema) Has(path string) bool {
	for _, f := range s.Fields {
		if f.Path == path {
			return true
		}
	}
	return false
}

// Hint renders the schema as a compact instruction for the provider.
func (s Schema) Hint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with a single JSON object (%s) with fields:\n", s.Name)
	for _, f := range s.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		if f.Nullable {
			req += ", null if not stated"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", f.Path, f.Type, req)
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " one of %s", strings.Join(f.Enum, "|"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Get reads a dot path from a JSON payload.
func Get(payload []byte, path string) gjson.Result {
	return gjson.GetBytes(payload, escapePath(path))
}

// escapePath protects gjson metacharacters that may occur in field names.
func escapePath(path string) string {
	r := strings.NewReplacer("*", `\*`, "?", `\?`, "#", `\#`, "|", `\|`, "@", `\@`)
	return r.Replace(path)
}
