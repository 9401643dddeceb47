package session

import (
	"strings"

	"jobcrawl_nexus/internal/detect"
	"jobcrawl_nexus/internal/model"
)

// buildOutcome turns a raw response into an unclassified outcome. Blank
// bodies become Empty; everything else is Ok until the detector runs.
func buildOutcome(url string, statusCode int, body string) *model.PageOutcome {
	out := &model.PageOutcome{
		Status:     model.PageOk,
		URL:        url,
		StatusCode: statusCode,
		Content:    body,
	}
	if strings.TrimSpace(body) == "" {
		out.Status = model.PageEmpty
		return out
	}
	out.Title, out.Text = detect.Visible(body)
	return out
}
