package model

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"time"
)

// State 是代理的健康状态。
type State int32

const (
	StateUnknown State = iota
	StateHealthy
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of String; unrecognised input maps to unknown.
func ParseState(s string) State {
	switch s {
	case "healthy":
		return StateHealthy
	case "failed":
		return StateFailed
	default:
		return StateUnknown
	}
}

// Credentials 是代理认证信息。
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// Endpoint 描述一个出口代理。
// state 与 lastUsed 只由 proxypool.Manager 在其锁内写入，其他地方只读。
type Endpoint struct {
	ID          string       `json:"id"`       // "protocol://host:port"
	Address     string       `json:"address"`  // host:port
	Protocol    string       `json:"protocol"` // http, https, socks5
	Source      string       `json:"source"`
	Credentials *Credentials `json:"credentials,omitempty"`

	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastChecked  time.Time `json:"last_checked"`

	state    atomic.Int32
	lastUsed atomic.Int64
}

// NewEndpoint builds an endpoint; an empty protocol means http.
func NewEndpoint(protocol, address string, creds *Credentials) *Endpoint {
	if protocol == "" {
		protocol = "http"
	}
	return &Endpoint{
		ID:          fmt.Sprintf("%s://%s", protocol, address),
		Address:     address,
		Protocol:    protocol,
		Credentials: creds,
	}
}

func (e *Endpoint) State() State { return State(e.state.Load()) }

// SetState is intended for the pool and for tests building fixtures.
func (e *Endpoint) SetState(s State) { e.state.Store(int32(s)) }

func (e *Endpoint) LastUsedAt() time.Time {
	n := e.lastUsed.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (e *Endpoint) MarkUsed(t time.Time) { e.lastUsed.Store(t.UnixNano()) }

// URL returns the proxy URL including credentials, as expected by
// http.ProxyURL and browser launch flags.
func (e *Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: e.Protocol, Host: e.Address}
	if e.Credentials != nil && e.Credentials.Username != "" {
		u.User = url.UserPassword(e.Credentials.Username, e.Credentials.Password)
	}
	return u
}

// ServerURL omits credentials; browsers receive those via an auth handler.
func (e *Endpoint) ServerURL() string {
	return fmt.Sprintf("%s://%s", e.Protocol, e.Address)
}

// Snapshot is a value copy for the monitor API.
type Snapshot struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	Protocol     string    `json:"protocol"`
	Source       string    `json:"source"`
	State        string    `json:"state"`
	LastUsedAt   time.Time `json:"last_used_at"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
}
