/*
File: overrides.go
Version: 1.5.0
Description: Operator allow/deny lists that bypass the model. Sources are
             plain-text files or URLs holding domains, IPs and CIDR ranges.
             Allow entries win over deny entries; both win over inference.
*/

package main

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yl2chen/cidranger"
	"golang.org/x/net/publicsuffix"
)

// OverrideVerdict is the outcome of a list match.
type OverrideVerdict struct {
	Deny   bool
	Source string // list identifier the match came from
}

func (v OverrideVerdict) Action() string {
	if v.Deny {
		return "deny"
	}
	return "allow"
}

// overrideSet is one compiled list: domain suffixes plus an IP range trie.
type overrideSet struct {
	domains map[string]struct{}
	ranger  cidranger.Ranger
	entries int
}

func newOverrideSet() *overrideSet {
	return &overrideSet{
		domains: make(map[string]struct{}),
		ranger:  cidranger.NewPCTrieRanger(),
	}
}

func (s *overrideSet) addDomain(host string) {
	host = strings.ToLower(strings.Trim(host, "."))
	if host == "" {
		return
	}
	// Refuse entries that are bare public suffixes; "com" in a deny list
	// would condemn half the internet.
	if ps, icann := publicsuffix.PublicSuffix(host); icann && ps == host {
		LogWarn("[OVERRIDE] Ignoring public-suffix entry '%s'", host)
		return
	}
	s.domains[host] = struct{}{}
	s.entries++
}

func (s *overrideSet) addNetwork(ipnet *net.IPNet) {
	if err := s.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet)); err != nil {
		LogWarn("[OVERRIDE] Failed to index range %s: %v", ipnet.String(), err)
		return
	}
	s.entries++
}

// matchHost walks the host's suffixes from most to least specific, so an
// entry covers the domain and every subdomain under it.
func (s *overrideSet) matchHost(host string) bool {
	if len(s.domains) == 0 {
		return false
	}
	for {
		if _, ok := s.domains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
}

func (s *overrideSet) matchIP(ip net.IP) bool {
	contained, err := s.ranger.Contains(ip)
	return err == nil && contained
}

// OverrideList holds the compiled allow and deny sets and refreshes them in
// the background. Lookups take a read lock only.
type OverrideList struct {
	mu    sync.RWMutex
	allow *overrideSet
	deny  *overrideSet
	cfg   OverridesConfig
}

// NewOverrideList compiles the configured sources. Returns nil when no
// sources are configured so callers can skip the lookup entirely.
func NewOverrideList(cfg OverridesConfig) *OverrideList {
	if len(cfg.AllowFiles)+len(cfg.AllowURLs)+len(cfg.DenyFiles)+len(cfg.DenyURLs) == 0 {
		return nil
	}
	ol := &OverrideList{cfg: cfg}
	ol.Reload()
	return ol
}

// Reload rebuilds both sets from their sources and swaps them in atomically.
// A source that fails to load contributes nothing; the remaining sources
// still apply.
func (ol *OverrideList) Reload() {
	started := time.Now()

	allow := newOverrideSet()
	deny := newOverrideSet()

	loadOverrideSources(allow, ol.cfg.AllowFiles, ol.cfg.AllowURLs)
	loadOverrideSources(deny, ol.cfg.DenyFiles, ol.cfg.DenyURLs)

	ol.mu.Lock()
	ol.allow = allow
	ol.deny = deny
	ol.mu.Unlock()

	LogInfo("[OVERRIDE] Loaded %d allow and %d deny entries in %v",
		allow.entries, deny.entries, time.Since(started).Round(time.Millisecond))
}

// Match resolves a URL against the lists. Allow beats deny.
func (ol *OverrideList) Match(rawURL string) (OverrideVerdict, bool) {
	host := hostOfURL(rawURL)
	if host == "" {
		return OverrideVerdict{}, false
	}

	var ip net.IP
	if ipPrefixRegex.MatchString(host) {
		ip = net.ParseIP(host)
	}

	ol.mu.RLock()
	allow, deny := ol.allow, ol.deny
	ol.mu.RUnlock()

	if allow.matchHost(host) || (ip != nil && allow.matchIP(ip)) {
		return OverrideVerdict{Deny: false, Source: "allow_list"}, true
	}
	if deny.matchHost(host) || (ip != nil && deny.matchIP(ip)) {
		return OverrideVerdict{Deny: true, Source: "deny_list"}, true
	}
	return OverrideVerdict{}, false
}

// Counts reports the entry totals for health reporting.
func (ol *OverrideList) Counts() (allow, deny int) {
	ol.mu.RLock()
	defer ol.mu.RUnlock()
	return ol.allow.entries, ol.deny.entries
}

// StartRefresh reloads the lists periodically until stop is closed.
func (ol *OverrideList) StartRefresh(stop <-chan struct{}, done *sync.WaitGroup) {
	interval := ol.cfg.parsedRefresh
	if interval <= 0 {
		return
	}
	done.Add(1)
	go func() {
		defer done.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ol.Reload()
			case <-stop:
				return
			}
		}
	}()
}

// hostOfURL extracts the lowercase host from a URL the same way the feature
// extractor does, additionally stripping userinfo and port.
func hostOfURL(rawURL string) string {
	raw := NormalizeURL(rawURL)
	lower := strings.ToLower(raw)

	if strings.HasPrefix(lower, "https://") {
		lower = lower[len("https://"):]
	} else if strings.HasPrefix(lower, "http://") {
		lower = lower[len("http://"):]
	}

	if idx := strings.IndexByte(lower, '/'); idx >= 0 {
		lower = lower[:idx]
	}
	if idx := strings.LastIndexByte(lower, '@'); idx >= 0 {
		lower = lower[idx+1:]
	}
	if idx := strings.IndexByte(lower, ':'); idx >= 0 {
		lower = lower[:idx]
	}
	return strings.Trim(lower, ".")
}

// --- Source loading ---

func loadOverrideSources(set *overrideSet, files, urls []string) {
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			LogWarn("[OVERRIDE] Failed to open %s: %v", path, err)
			continue
		}
		n := parseOverrideReader(set, f)
		f.Close()
		LogInfo("[OVERRIDE] Parsed file %s: %d entries", path, n)
	}

	if len(urls) == 0 {
		return
	}
	client := &http.Client{Timeout: 15 * time.Second}
	for _, u := range urls {
		resp, err := client.Get(u)
		if err != nil {
			LogWarn("[OVERRIDE] Failed to fetch %s: %v", u, err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			LogWarn("[OVERRIDE] Fetch %s returned status %d", u, resp.StatusCode)
			continue
		}
		n := parseOverrideReader(set, resp.Body)
		resp.Body.Close()
		LogInfo("[OVERRIDE] Parsed URL %s: %d entries", u, n)
	}
}

// parseOverrideReader reads one entry per line: a domain, an IP, or a CIDR
// range. '#' starts a comment.
func parseOverrideReader(set *overrideSet, r io.Reader) int {
	before := set.entries

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.IndexByte(line, '/') >= 0 {
			if _, ipnet, err := net.ParseCIDR(line); err == nil {
				set.addNetwork(ipnet)
				continue
			}
		}
		if ip := net.ParseIP(line); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			mask := net.CIDRMask(bits, bits)
			set.addNetwork(&net.IPNet{IP: ip, Mask: mask})
			continue
		}
		set.addDomain(line)
	}

	return set.entries - before
}
