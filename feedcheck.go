/*
File: feedcheck.go
Version: 1.1.0
Description: Periodic self-evaluation against a live phishing feed. Fetches a
             plain-text URL list, optionally probes which hosts still resolve,
             scores a sample through the service and logs the detection rate.
*/

package main

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

type FeedChecker struct {
	cfg     FeedCheckConfig
	service *PredictionService
	client  *http.Client
}

func NewFeedChecker(cfg FeedCheckConfig, svc *PredictionService) *FeedChecker {
	return &FeedChecker{
		cfg:     cfg,
		service: svc,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Start runs evaluation rounds until stop is closed. The first round fires
// shortly after startup so a misconfigured feed shows up in the logs early.
func (fc *FeedChecker) Start(stop <-chan struct{}, done *sync.WaitGroup) {
	if !fc.cfg.Enabled || fc.cfg.FeedURL == "" {
		return
	}
	done.Add(1)
	go func() {
		defer done.Done()

		initial := time.NewTimer(1 * time.Minute)
		defer initial.Stop()
		select {
		case <-initial.C:
			fc.runOnce()
		case <-stop:
			return
		}

		ticker := time.NewTicker(fc.cfg.parsedInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fc.runOnce()
			case <-stop:
				return
			}
		}
	}()
}

func (fc *FeedChecker) runOnce() {
	started := time.Now()

	urls, err := fc.fetchFeed()
	if err != nil {
		LogWarn("[FEED] Fetch failed: %v", err)
		return
	}
	if len(urls) == 0 {
		LogWarn("[FEED] Feed %s returned no URLs", fc.cfg.FeedURL)
		return
	}

	sample := urls
	if len(sample) > fc.cfg.BatchSize {
		sample = sample[:fc.cfg.BatchSize]
	}

	if fc.cfg.ProbeDNS {
		sample = fc.filterLive(sample)
		if len(sample) == 0 {
			LogWarn("[FEED] No feed hosts resolved; skipping round")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	detected := 0
	failed := 0
	var misses []string
	for _, item := range fc.service.PredictBatch(ctx, sample) {
		switch {
		case item.Error != "":
			failed++
		case item.PhishingLabel == labelPhishing:
			detected++
		default:
			if len(misses) < 5 {
				misses = append(misses, item.URL)
			}
		}
	}

	scored := len(sample) - failed
	rate := 0.0
	if scored > 0 {
		rate = float64(detected) / float64(scored) * 100
	}
	LogInfo("[FEED] Round done in %v: %d/%d detected (%.1f%%), %d failed",
		time.Since(started).Round(time.Millisecond), detected, scored, rate, failed)
	if len(misses) > 0 {
		LogInfo("[FEED] Sample of missed feed URLs: %s", strings.Join(misses, ", "))
	}
}

func (fc *FeedChecker) fetchFeed() ([]string, error) {
	resp, err := fc.client.Get(fc.cfg.FeedURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var urls []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// filterLive keeps only URLs whose host still resolves, so the detection
// rate reflects sites a user could actually reach.
func (fc *FeedChecker) filterLive(urls []string) []string {
	resolved := make([]bool, len(urls))
	sem := make(chan struct{}, fc.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, u := range urls {
		i, u := i, u
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			resolved[i] = fc.hostResolves(hostOfURL(u))
		}()
	}
	wg.Wait()

	live := make([]string, 0, len(urls))
	for i, ok := range resolved {
		if ok {
			live = append(live, urls[i])
		}
	}
	LogDebug("[FEED] %d/%d feed hosts resolve", len(live), len(urls))
	return live
}

func (fc *FeedChecker) hostResolves(host string) bool {
	if host == "" {
		return false
	}
	// Dotted-quad hosts have nothing to resolve.
	if ipPrefixRegex.MatchString(host) {
		return true
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	c := &dns.Client{Timeout: 3 * time.Second}
	resp, _, err := c.Exchange(m, fc.cfg.Resolver)
	if err != nil || resp == nil {
		return false
	}
	return resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0
}
