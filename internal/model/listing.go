package model

import (
	"encoding/json"
	"strings"
)

// NotAvailableText is how an absent Field renders in text outputs.
const NotAvailableText = "N/A"

// Field is an optional text value. The zero value is NotAvailable, which is
// distinct from a present empty string.
type Field struct {
	value string
	ok    bool
}

// NotAvailable is the absent sentinel.
var NotAvailable = Field{}

// Text wraps a present value.
func Text(s string) Field {
	return Field{value: s, ok: true}
}

// TextOrNA treats blank input as absent.
func TextOrNA(s string) Field {
	s = strings.TrimSpace(s)
	if s == "" {
		return NotAvailable
	}
	return Text(s)
}

func (f Field) Value() (string, bool) { return f.value, f.ok }

func (f Field) Present() bool { return f.ok }

// String renders the sentinel as "N/A".
func (f Field) String() string {
	if !f.ok {
		return NotAvailableText
	}
	return f.value
}

func (f Field) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = NotAvailable
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = Text(s)
	return nil
}

// Listing 是规范化后的职位记录。只有 SourceURL 是必填的。
type Listing struct {
	Title           Field    `json:"title"`
	Company         Field    `json:"company"`
	ExperienceRange Field    `json:"experience_range"`
	Location        Field    `json:"location"`
	Salary          Field    `json:"salary"`
	Skills          []string `json:"skills"`
	Description     Field    `json:"description"`
	PostedDate      Field    `json:"posted_date"`
	SourceURL       string   `json:"source_url"`
	JobID           Field    `json:"job_id"`
}

// Key identifies a listing for de-duplication within one run.
func (l *Listing) Key() string {
	if id, ok := l.JobID.Value(); ok && id != "" {
		return "id:" + id
	}
	return "url:" + l.SourceURL
}

// SkillsText joins skills for flat outputs, "N/A" when unknown.
func (l *Listing) SkillsText() string {
	if len(l.Skills) == 0 {
		return NotAvailableText
	}
	return strings.Join(l.Skills, ", ")
}
