package storage

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/proxypool/model"
)

const (
	delimiter = "|"
	numFields = 9 // ID|Protocol|Address|Username|Source|State|LastUsed|FailureCount|SuccessCount
)

// Storage 接口定义了代理状态持久化的行为。
type Storage interface {
	Load() ([]*model.Endpoint, error)
	Save(endpoints []*model.Endpoint) error
}

// FileStorage 实现了 Storage 接口，使用纯文本文件保存代理状态。
// 密码不落盘，恢复时由代理列表文件补齐。
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

// Load 从状态文件加载代理。
func (fs *FileStorage) Load() ([]*model.Endpoint, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Proxy state file not found, starting with an empty pool.")
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var endpoints []*model.Endpoint
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, delimiter)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed line in proxy state file.")
			continue
		}

		e, err := parseEndpoint(fields)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse proxy state line, skipping.")
			continue
		}
		endpoints = append(endpoints, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.Info().Int("count", len(endpoints)).Msg("Loaded proxy state from file.")
	return endpoints, nil
}

// Save 将代理状态写入文件，按 ID 排序。
func (fs *FileStorage) Save(endpoints []*model.Endpoint) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	sorted := make([]*model.Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	var sb strings.Builder
	for _, e := range sorted {
		sb.WriteString(formatEndpoint(e))
		sb.WriteString("\n")
	}

	if err := os.WriteFile(fs.filePath, []byte(sb.String()), 0644); err != nil {
		return err
	}

	l := logger.WithComponent("ProxyPool/Storage")
	l.Debug().Int("count", len(sorted)).Msg("Saved proxy state to file.")
	return nil
}

func formatEndpoint(e *model.Endpoint) string {
	username := ""
	if e.Credentials != nil {
		username = e.Credentials.Username
	}
	var lastUsed int64
	if t := e.LastUsedAt(); !t.IsZero() {
		lastUsed = t.Unix()
	}
	return strings.Join([]string{
		e.ID,
		e.Protocol,
		e.Address,
		username,
		e.Source,
		e.State().String(),
		strconv.FormatInt(lastUsed, 10),
		strconv.Itoa(e.FailureCount),
		strconv.Itoa(e.SuccessCount),
	}, delimiter)
}

func parseEndpoint(fields []string) (*model.Endpoint, error) {
	lastUsedUnix, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid last_used: %w", err)
	}
	failureCount, err := strconv.Atoi(fields[7])
	if err != nil {
		return nil, fmt.Errorf("invalid failure_count: %w", err)
	}
	successCount, err := strconv.Atoi(fields[8])
	if err != nil {
		return nil, fmt.Errorf("invalid success_count: %w", err)
	}

	var creds *model.Credentials
	if fields[3] != "" {
		creds = &model.Credentials{Username: fields[3]}
	}
	e := model.NewEndpoint(fields[1], fields[2], creds)
	if e.ID != fields[0] {
		return nil, fmt.Errorf("id %q does not match %s://%s", fields[0], fields[1], fields[2])
	}
	e.Source = fields[4]
	e.SetState(model.ParseState(fields[5]))
	e.FailureCount = failureCount
	e.SuccessCount = successCount
	if lastUsedUnix > 0 {
		e.MarkUsed(time.Unix(lastUsedUnix, 0))
	}
	return e, nil
}

// LoadList 读取代理列表文件。文件不存在时返回空列表。
func LoadList(path string) ([]*model.Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseList(f, "file")
}

// ParseList parses one proxy per line, either "host:port" or
// "scheme://[user:pass@]host:port". Blank lines and lines starting with '#'
// are ignored; malformed lines are logged and skipped.
func ParseList(r io.Reader, source string) ([]*model.Endpoint, error) {
	l := logger.WithComponent("ProxyPool/Storage")
	var endpoints []*model.Endpoint
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := ParseEndpoint(line)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Invalid proxy entry, skipping.")
			continue
		}
		e.Source = source
		endpoints = append(endpoints, e)
	}
	return endpoints, scanner.Err()
}

// ParseEndpoint parses a single proxy entry.
func ParseEndpoint(s string) (*model.Endpoint, error) {
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", s, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", u.Scheme)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return nil, fmt.Errorf("invalid proxy address %q", u.Host)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid proxy port %q", port)
	}

	var creds *model.Credentials
	if u.User != nil {
		pass, _ := u.User.Password()
		creds = &model.Credentials{Username: u.User.Username(), Password: pass}
	}
	return model.NewEndpoint(u.Scheme, u.Host, creds), nil
}
