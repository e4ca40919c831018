// Package discovery finds game servers through the Steam Web API and merges
// them into the registry file.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"serverwatch/internal/registry"
)

const (
	DefaultEndpoint = "https://api.steampowered.com/IGameServersService/GetServerList/v1/"
	DefaultAppID    = 686810
	DefaultLimit    = 1000
	DefaultTimeout  = 15 * time.Second
)

// DefaultDeny are the name substrings (case-insensitive) that exclude a server.
var DefaultDeny = []string{"EVENT", "JAGER", "BADGERGROUNDS", "SWE"}

type Config struct {
	Endpoint string
	APIKey   string
	AppID    int
	Limit    int
	Deny     []string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Endpoint) == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.AppID <= 0 {
		c.AppID = DefaultAppID
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Deny == nil {
		c.Deny = DefaultDeny
	}
	return c
}

// SteamServer is one entry of the GetServerList response.
type SteamServer struct {
	Addr       string `json:"addr"`
	GamePort   int    `json:"gameport"`
	Name       string `json:"name"`
	Map        string `json:"map"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
}

type serverListResponse struct {
	Response struct {
		Servers []SteamServer `json:"servers"`
	} `json:"response"`
}

// SteamClient calls IGameServersService/GetServerList.
type SteamClient struct {
	cfg  Config
	http *http.Client
}

func NewSteamClient(cfg Config, hc *http.Client) *SteamClient {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &SteamClient{cfg: cfg, http: hc}
}

// List returns every server the API reports for the configured app.
func (c *SteamClient) List(ctx context.Context) ([]SteamServer, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errors.New("steam api key is empty")
	}
	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("filter", `\appid\`+strconv.Itoa(c.cfg.AppID))
	q.Set("limit", strconv.Itoa(c.cfg.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("steam request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("steam request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out serverListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode steam response: %w", err)
	}
	return out.Response.Servers, nil
}

// Filter drops servers whose name contains any deny entry (case-insensitive)
// and converts the rest to registry entries. Entries with an unusable addr are skipped.
func Filter(servers []SteamServer, deny []string) []registry.Server {
	needles := make([]string, 0, len(deny))
	for _, d := range deny {
		if d = strings.TrimSpace(d); d != "" {
			needles = append(needles, strings.ToUpper(d))
		}
	}

	out := make([]registry.Server, 0, len(servers))
next:
	for _, s := range servers {
		name := strings.ToUpper(s.Name)
		for _, n := range needles {
			if strings.Contains(name, n) {
				continue next
			}
		}
		rs, ok := parseAddr(s.Addr)
		if !ok {
			continue
		}
		out = append(out, rs)
	}
	return out
}

func parseAddr(addr string) (registry.Server, bool) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil || host == "" {
		return registry.Server{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return registry.Server{}, false
	}
	return registry.Server{Address: host, Port: port}, true
}
