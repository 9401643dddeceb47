package detect

import (
	"strings"

	"jobcrawl_nexus/internal/model"
)

// Verdict is the classification of a loaded page.
type Verdict int

const (
	Ok Verdict = iota
	Captcha
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Captcha:
		return "Captcha"
	case Blocked:
		return "Blocked"
	default:
		return "Ok"
	}
}

// PageStatus maps the verdict onto a page outcome status.
func (v Verdict) PageStatus() model.PageStatus {
	switch v {
	case Captcha:
		return model.PageCaptcha
	case Blocked:
		return model.PageBlocked
	default:
		return model.PageOk
	}
}

var (
	DefaultCaptchaMarkers = []string{"captcha", "verification", "robot"}
	DefaultBlockMarkers   = []string{"access denied", "403", "blocked"}
)

// Detector classifies page content by case-insensitive marker substrings.
// It holds no mutable state.
type Detector struct {
	captcha []string
	block   []string
}

// New builds a detector; nil marker sets fall back to the defaults.
func New(captchaMarkers, blockMarkers []string) *Detector {
	if len(captchaMarkers) == 0 {
		captchaMarkers = DefaultCaptchaMarkers
	}
	if len(blockMarkers) == 0 {
		blockMarkers = DefaultBlockMarkers
	}
	return &Detector{
		captcha: lowerAll(captchaMarkers),
		block:   lowerAll(blockMarkers),
	}
}

// Classify checks block markers first (text or title), then captcha
// markers (text). text is the visible body text, see Visible; raw markup
// carries head metadata that trips the markers on ordinary pages.
func (d *Detector) Classify(text, title string) Verdict {
	c := strings.ToLower(text)
	t := strings.ToLower(title)
	if containsAny(c, d.block) || containsAny(t, d.block) {
		return Blocked
	}
	if containsAny(c, d.captcha) {
		return Captcha
	}
	return Ok
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
