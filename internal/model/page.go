package model

// PageStatus is the classification of one navigation.
type PageStatus int

const (
	PageOk PageStatus = iota
	PageCaptcha
	PageBlocked
	PageEmpty
	PageTransportError
)

func (s PageStatus) String() string {
	switch s {
	case PageOk:
		return "Ok"
	case PageCaptcha:
		return "Captcha"
	case PageBlocked:
		return "Blocked"
	case PageEmpty:
		return "Empty"
	case PageTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// PageOutcome is what a session saw after navigating. NextURL is filled by
// the orchestrator once extraction produced a pagination hint.
type PageOutcome struct {
	Status     PageStatus
	URL        string
	StatusCode int
	Title      string
	Content    string // raw markup, for the extractors
	Text       string // visible body text, for the detector
	NextURL    string
}
