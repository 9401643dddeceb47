// Package normalize maps the raw records of every extraction strategy onto
// model.Listing.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"jobcrawl_nexus/internal/extract"
	"jobcrawl_nexus/internal/model"
)

// ErrNoSourceURL rejects records that cannot be traced back to a page.
var ErrNoSourceURL = errors.New("normalize: record has no source url")

// Aliases lists, per canonical field, the raw keys tried in order. The
// strategies disagree on naming: the JSON API says companyName and jdURL,
// the DOM rules say company and url.
var Aliases = map[string][]string{
	"title":       {"title", "jobTitle", "designation"},
	"company":     {"company", "companyName"},
	"experience":  {"experience", "experienceText"},
	"location":    {"location", "locations", "jobLocation"},
	"salary":      {"salary", "salaryText", "salaryDetail.label"},
	"skills":      {"skills", "tagsAndSkills", "keySkills"},
	"description": {"description", "jobDescription"},
	"postedDate":  {"postedDate", "footerPlaceholderLabel", "createdDate"},
	"url":         {"url", "jdURL", "sourceURL"},
	"jobId":       {"jobId", "id"},
}

// Normalizer is safe for concurrent use; it holds no mutable state.
type Normalizer struct {
	base            *url.URL
	listingTemplate string
	idRe            *regexp.Regexp
}

// New builds a Normalizer. baseURL resolves relative links; listingTemplate
// (with a {job_id} placeholder) builds a link when a record only has an ID.
func New(baseURL, listingTemplate string, idRe *regexp.Regexp) (*Normalizer, error) {
	n := &Normalizer{listingTemplate: listingTemplate, idRe: idRe}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("normalize: base url: %w", err)
		}
		n.base = u
	}
	return n, nil
}

// Normalize converts one raw record. Only a missing source URL is an error;
// every other absent field becomes model.NotAvailable.
func (n *Normalizer) Normalize(rec extract.RawRecord) (model.Listing, error) {
	var l model.Listing

	l.JobID = model.TextOrNA(first(rec, "jobId"))
	src, err := n.sourceURL(rec, l.JobID)
	if err != nil {
		return model.Listing{}, err
	}
	l.SourceURL = src
	if !l.JobID.Present() && n.idRe != nil {
		if m := n.idRe.FindStringSubmatch(src); len(m) > 1 {
			l.JobID = model.TextOrNA(m[1])
		}
	}

	l.Title = model.TextOrNA(first(rec, "title"))
	l.Company = model.TextOrNA(first(rec, "company"))
	l.ExperienceRange = experience(rec)
	l.Location = model.TextOrNA(strings.Join(all(rec, "location"), ", "))
	l.Salary = model.TextOrNA(first(rec, "salary"))
	l.Skills = skills(rec)
	l.Description = model.TextOrNA(extract.StripTags(first(rec, "description")))
	l.PostedDate = model.TextOrNA(first(rec, "postedDate"))
	return l, nil
}

func (n *Normalizer) sourceURL(rec extract.RawRecord, id model.Field) (string, error) {
	if raw := first(rec, "url"); raw != "" {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return "", fmt.Errorf("normalize: bad url %q: %w", raw, err)
		}
		if n.base != nil {
			u = n.base.ResolveReference(u)
		}
		return u.String(), nil
	}
	if v, ok := id.Value(); ok && n.listingTemplate != "" {
		return strings.ReplaceAll(n.listingTemplate, "{job_id}", url.PathEscape(v)), nil
	}
	return "", ErrNoSourceURL
}

// values returns the values of the first alias present in rec.
func values(rec extract.RawRecord, field string) []string {
	vs, _, ok := extract.FirstMatch(Aliases[field], func(key string) ([]string, bool) {
		return rec[key], rec.Has(key)
	})
	if !ok {
		return nil
	}
	return vs
}

func first(rec extract.RawRecord, field string) string {
	if vs := values(rec, field); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func all(rec extract.RawRecord, field string) []string {
	var out []string
	for _, v := range values(rec, field) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// experience falls back to the API's numeric minExp/maxExp pair.
func experience(rec extract.RawRecord) model.Field {
	if v := first(rec, "experience"); v != "" {
		return model.TextOrNA(v)
	}
	lo, hasLo := rec.Get("minExp")
	hi, hasHi := rec.Get("maxExp")
	switch {
	case hasLo && hasHi && lo != hi:
		return model.Text(lo + "-" + hi + " years")
	case hasLo:
		return model.Text(lo + " years")
	case hasHi:
		return model.Text(hi + " years")
	}
	return model.NotAvailable
}

// skills accepts either a list or a single comma separated string.
func skills(rec extract.RawRecord) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values(rec, "skills") {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" || seen[strings.ToLower(s)] {
				continue
			}
			seen[strings.ToLower(s)] = true
			out = append(out, s)
		}
	}
	return out
}
