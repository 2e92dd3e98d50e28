// Package msgtmpl personalizes outbound copy by substituting {{variable}}
// placeholders with fields from a simulated lead.
package msgtmpl

import (
	"regexp"
	"sort"
	"strings"
)

// Lead is the lead record used for substitution and sent to the agent
// service as lead data. Secondary fields (FullName, CurrentCompany, ...)
// are consulted only when the primary field is empty.
type Lead struct {
	Name             string `yaml:"name" json:"name,omitempty"`
	FullName         string `yaml:"full_name" json:"full_name,omitempty"`
	FirstName        string `yaml:"first_name" json:"first_name,omitempty"`
	Company          string `yaml:"company" json:"company,omitempty"`
	CurrentCompany   string `yaml:"current_company" json:"current_company,omitempty"`
	Title            string `yaml:"title" json:"title,omitempty"`
	JobTitle         string `yaml:"job_title" json:"job_title,omitempty"`
	Location         string `yaml:"location" json:"location,omitempty"`
	Industry         string `yaml:"industry" json:"industry,omitempty"`
	Connections      string `yaml:"connections" json:"connections,omitempty"`
	ConnectionsCount string `yaml:"connections_count" json:"connections_count,omitempty"`
	Summary          string `yaml:"summary" json:"summary,omitempty"`
	Headline         string `yaml:"headline" json:"headline,omitempty"`
}

// placeholder matches a single {{name}} token. Names are word characters
// only; anything else between braces is left alone.
var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// field resolves one logical lead field.
type field func(l Lead) string

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func fullName(l Lead) string { return firstNonEmpty(l.Name, l.FullName) }

func firstName(l Lead) string {
	if l.FirstName != "" {
		return l.FirstName
	}
	parts := strings.Fields(fullName(l))
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// variables maps every accepted variable name, lower-cased, to its field.
// English names are canonical; the Portuguese names are legacy aliases.
var variables = func() map[string]field {
	company := func(l Lead) string { return firstNonEmpty(l.Company, l.CurrentCompany) }
	title := func(l Lead) string { return firstNonEmpty(l.Title, l.JobTitle) }
	location := func(l Lead) string { return l.Location }
	industry := func(l Lead) string { return l.Industry }
	connections := func(l Lead) string { return firstNonEmpty(l.Connections, l.ConnectionsCount) }
	summary := func(l Lead) string { return firstNonEmpty(l.Summary, l.Headline) }

	return map[string]field{
		"first_name":    firstName,
		"primeiro_nome": firstName,
		"name":          fullName,
		"nome":          fullName,
		"company":       company,
		"empresa":       company,
		"title":         title,
		"cargo":         title,
		"location":      location,
		"localizacao":   location,
		"industry":      industry,
		"industria":     industry,
		"connections":   connections,
		"conexoes":      connections,
		"summary":       summary,
		"resumo":        summary,
	}
}()

// Expand replaces every known placeholder in tmpl with the matching lead
// field. Matching is case-insensitive, missing fields become the empty
// string and unknown placeholders are kept verbatim. Replacement values
// are inserted as-is and never expanded again.
func Expand(tmpl string, lead Lead) string {
	if tmpl == "" {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := strings.ToLower(tok[2 : len(tok)-2])
		f, ok := variables[name]
		if !ok {
			return tok
		}
		return f(lead)
	})
}

// UsedVariables returns the placeholders appearing in tmpl, in order of
// appearance, including duplicates.
func UsedVariables(tmpl string) []string {
	return placeholder.FindAllString(tmpl, -1)
}

// Validate reports the placeholders in tmpl that Expand does not know.
// The returned slice is nil when the template is valid.
func Validate(tmpl string) []string {
	var invalid []string
	for _, tok := range UsedVariables(tmpl) {
		if _, ok := variables[strings.ToLower(tok[2:len(tok)-2])]; !ok {
			invalid = append(invalid, tok)
		}
	}
	return invalid
}

// KnownVariables lists every accepted variable name in sorted order.
func KnownVariables() []string {
	names := make([]string, 0, len(variables))
	for n := range variables {
		names = append(names, "{{"+n+"}}")
	}
	sort.Strings(names)
	return names
}
