/*
File: server_http.go
Version: 2.2.0
Description: HTTP API surface and listener orchestration. Serves the same mux
             over HTTP/1.1&2 and HTTP/3; all listeners share one prediction
             service and shut down gracefully on signal.
*/

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

const DefaultServerTimeout = 10 * time.Second

// Global service instance, set by main before any listener starts.
var service *PredictionService

// ServerShutdowner interface for graceful shutdown
type ServerShutdowner interface {
	Shutdown(ctx context.Context) error
	String() string
}

// HTTPServerWrapper wraps http.Server to implement ServerShutdowner
type HTTPServerWrapper struct {
	*http.Server
	TLS bool
}

func (w *HTTPServerWrapper) Shutdown(ctx context.Context) error {
	return w.Server.Shutdown(ctx)
}

func (w *HTTPServerWrapper) String() string {
	proto := "HTTP/1.1&2"
	if w.TLS {
		proto = "HTTPS (HTTP/1.1&2)"
	}
	return fmt.Sprintf("Protocol: %s | Addr: %s", proto, w.Addr)
}

// HTTP3ServerWrapper wraps http3.Server to implement ServerShutdowner
type HTTP3ServerWrapper struct {
	*http3.Server
}

func (w *HTTP3ServerWrapper) Shutdown(ctx context.Context) error {
	return w.Server.Close()
}

func (w *HTTP3ServerWrapper) String() string {
	return fmt.Sprintf("Protocol: HTTP/3 (QUIC) | Addr: %s", w.Addr)
}

// --- JSON envelopes ---

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	URL    string `json:"url,omitempty"`
}

type predictRequest struct {
	URL string `json:"url"`
}

type batchRequest struct {
	URLs []string `json:"urls"`
}

type batchResponse struct {
	Results []BatchItem `json:"results"`
	Count   int         `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		LogWarn("[API] Failed to encode response: %v", err)
	}
}

// --- Handlers ---

func handlePredictURL(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.Server.parsedTimeout)
	defer cancel()

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no_url_provided"})
		return
	}

	result, err := service.Predict(ctx, strings.TrimSpace(req.URL))
	if err != nil {
		if errors.Is(err, ErrNoURL) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no_url_provided"})
			return
		}
		// A missing model surfaces as an inference failure, same as the
		// original handler; /health is the endpoint that distinguishes
		// degraded mode.
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:  "prediction_failed",
			Detail: err.Error(),
			URL:    req.URL,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.Server.parsedTimeout)
	defer cancel()

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.URLs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no_urls_provided"})
		return
	}

	results := service.PredictBatch(ctx, req.URLs)
	writeJSON(w, http.StatusOK, batchResponse{Results: results, Count: len(results)})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":       "ok",
		"model_loaded": service.Ready(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"stats":        service.Stats.Snapshot(),
	}

	if bundle := service.Bundle(); bundle != nil {
		names := bundle.FeatureNames
		if len(names) == 0 {
			names = featureOrder
		}
		preview := names
		if len(preview) > 10 {
			preview = preview[:10]
		}
		health["model_kind"] = bundle.ModelKind()
		health["has_scaler"] = bundle.Scaler != nil
		health["feature_count"] = bundle.FeatureCount()
		health["feature_names"] = preview
		health["phishing_threshold"] = bundle.Threshold
	} else {
		health["status"] = "degraded"
	}

	if cache := service.Cache(); cache != nil {
		health["cache_size"] = cache.Len()
		health["cache_fresh"] = cache.Fresh()
	}

	if service.overrides != nil {
		allow, deny := service.overrides.Counts()
		health["override_allow"] = allow
		health["override_deny"] = deny
	}

	status := http.StatusOK
	if !service.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func handleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("User-agent: *\nDisallow: /\n"))
}

// --- Middleware ---

// apiMiddleware applies panic recovery, method enforcement, body caps and
// the client rate limiter in front of every handler.
func apiMiddleware(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				LogError("[API] Panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
			}
		}()

		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"})
			return
		}

		if GlobalLimiter != nil {
			action, delay, reason := GlobalLimiter.Check(clientIPOf(r))
			switch action {
			case ActionDrop:
				LogWarn("[API] Dropping request from %s: %s", r.RemoteAddr, reason)
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited"})
				return
			case ActionDelay:
				LogDebug("[API] Pacing request from %s: %s", r.RemoteAddr, reason)
				select {
				case <-time.After(delay):
				case <-r.Context().Done():
					return
				}
			}
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, config.Server.MaxBodyBytes)
		}

		next(w, r)
	}
}

func clientIPOf(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/predict_url", apiMiddleware(http.MethodPost, handlePredictURL))
	mux.HandleFunc("/predict_batch", apiMiddleware(http.MethodPost, handlePredictBatch))
	mux.HandleFunc("/health", apiMiddleware(http.MethodGet, handleHealth))
	if config.Server.RobotsTxt {
		mux.HandleFunc("/robots.txt", handleRobotsTxt)
	}
	return mux
}

// --- Listener orchestration ---

func loadTLSConfig() *tls.Config {
	certFile := config.Server.TLS.CertFile
	keyFile := config.Server.TLS.KeyFile
	if certFile == "" || keyFile == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		LogWarn("[SERVER] Failed to load TLS keypair: %v", err)
		return nil
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

func startServers(wg *sync.WaitGroup) []ServerShutdowner {
	var servers []ServerShutdowner

	mux := buildMux()
	tlsConfig := loadTLSConfig()

	for _, l := range config.Server.Listeners {
		for _, address := range l.Address {
			for _, port := range l.Port {
				addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
				protocol := strings.ToLower(l.Protocol)
				if protocol == "" {
					protocol = "http"
				}

				switch protocol {
				case "http":
					wg.Add(1)
					srv := &http.Server{
						Addr:              addr,
						Handler:           mux,
						ReadHeaderTimeout: DefaultServerTimeout,
					}
					wrapper := &HTTPServerWrapper{Server: srv}
					go func() {
						defer wg.Done()
						LogInfo("Starting Server [%s]", wrapper.String())
						if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							LogError("Server [%s] stopped: %v", wrapper.String(), err)
						}
					}()
					servers = append(servers, wrapper)

				case "https":
					if tlsConfig == nil {
						LogWarn("[SERVER] Skipping HTTPS listener on %s: no TLS keypair configured", addr)
						continue
					}
					wg.Add(1)
					srv := &http.Server{
						Addr:              addr,
						Handler:           mux,
						TLSConfig:         tlsConfig,
						ReadHeaderTimeout: DefaultServerTimeout,
					}
					wrapper := &HTTPServerWrapper{Server: srv, TLS: true}
					go func() {
						defer wg.Done()
						LogInfo("Starting Server [%s]", wrapper.String())
						if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
							LogError("Server [%s] stopped: %v", wrapper.String(), err)
						}
					}()
					servers = append(servers, wrapper)

				case "h3":
					if tlsConfig == nil {
						LogWarn("[SERVER] Skipping HTTP/3 listener on %s: no TLS keypair configured", addr)
						continue
					}
					wg.Add(1)
					srv := &http3.Server{
						Addr:      addr,
						Handler:   mux,
						TLSConfig: tlsConfig,
						QuicConfig: &quic.Config{
							Allow0RTT: true,
						},
					}
					wrapper := &HTTP3ServerWrapper{srv}
					go func() {
						defer wg.Done()
						LogInfo("Starting Server [%s]", wrapper.String())
						if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							LogError("Server [%s] stopped: %v", wrapper.String(), err)
						}
					}()
					servers = append(servers, wrapper)

				default:
					LogWarn("[SERVER] Unknown listener protocol '%s' on %s", protocol, addr)
				}
			}
		}
	}

	return servers
}
