/*
File: server_test.go
Version: 1.0.0
Description: HTTP handler tests over httptest.
*/

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAPI(t *testing.T, bundle *ModelBundle) *httptest.Server {
	t.Helper()

	config = &Config{}
	config.Server.MaxBodyBytes = 1 << 20
	config.Server.parsedTimeout = 5 * time.Second
	config.Server.RobotsTxt = true
	GlobalLimiter = nil

	service = NewPredictionService(bundle, NewPredictionCache(100, time.Minute), nil)

	srv := httptest.NewServer(buildMux())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHandlePredictURL(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true, proba: 0.9}, 0.5))

	resp, body := postJSON(t, srv.URL+"/predict_url", `{"url": "http://login.example.com"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://login.example.com", body["url"])
	assert.Equal(t, float64(1), body["prediction"])
	assert.Equal(t, 0.9, body["probability"])
	assert.Equal(t, "phishing", body["phishing_label"])
	assert.Equal(t, 0.5, body["threshold"])

	features, ok := body["features"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, features, len(featureOrder))
}

func TestHandlePredictURLNormalizesEcho(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true, proba: 0.1}, 0.5))

	resp, body := postJSON(t, srv.URL+"/predict_url", `{"url": "example.com"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://example.com", body["url"])
	assert.Equal(t, "legitimate", body["phishing_label"])
}

func TestHandlePredictURLNoURL(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true}, 0.5))

	resp, body := postJSON(t, srv.URL+"/predict_url", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_url_provided", body["error"])

	resp, body = postJSON(t, srv.URL+"/predict_url", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_url_provided", body["error"])
}

func TestHandlePredictURLDegraded(t *testing.T) {
	srv := setupAPI(t, nil)

	// No loaded model fails the prediction itself; only /health reports
	// degraded mode distinctly.
	resp, body := postJSON(t, srv.URL+"/predict_url", `{"url": "http://example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "prediction_failed", body["error"])
	assert.Equal(t, ErrModelUnavailable.Error(), body["detail"])
}

func TestHandlePredictURLFailure(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true, panics: true}, 0.5))

	resp, body := postJSON(t, srv.URL+"/predict_url", `{"url": "http://example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "prediction_failed", body["error"])
	assert.Equal(t, "http://example.com", body["url"])
	assert.NotEmpty(t, body["detail"])
}

func TestHandlePredictURLMethodNotAllowed(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true}, 0.5))

	resp, err := http.Get(srv.URL + "/predict_url")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandlePredictBatch(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true, proba: 0.9}, 0.5))

	resp, body := postJSON(t, srv.URL+"/predict_batch",
		`{"urls": ["http://a.com", "", "http://c.com"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["count"])

	results, ok := body["results"].([]interface{})
	require.True(t, ok)
	require.Len(t, results, 3)

	first := results[0].(map[string]interface{})
	assert.Equal(t, "http://a.com", first["url"])
	assert.Equal(t, "phishing", first["phishing_label"])
	assert.Equal(t, 0.5, first["threshold"])

	second := results[1].(map[string]interface{})
	assert.NotEmpty(t, second["error"])
	assert.Nil(t, second["prediction"])
	assert.Nil(t, second["threshold"])
}

func TestHandlePredictBatchEmpty(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true}, 0.5))

	resp, body := postJSON(t, srv.URL+"/predict_batch", `{"urls": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_urls_provided", body["error"])
}

func TestHandlePredictBatchTruncates(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true, proba: 0.9}, 0.5))

	var urls []string
	for i := 0; i < 120; i++ {
		urls = append(urls, fmt.Sprintf("http://site%d.com", i))
	}
	payload, err := json.Marshal(map[string]interface{}{"urls": urls})
	require.NoError(t, err)

	resp, body := postJSON(t, srv.URL+"/predict_batch", string(payload))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(MaxBatchURLs), body["count"])
}

func TestHandleHealth(t *testing.T) {
	bundle := stubBundle(&stubClassifier{hasProba: true, proba: 0.9}, 0.42)
	bundle.FeatureNames = featureOrder
	srv := setupAPI(t, bundle)

	// Warm the cache so the counters move.
	postJSON(t, srv.URL+"/predict_url", `{"url": "http://example.com"}`)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, 0.42, body["phishing_threshold"])
	assert.Equal(t, float64(1), body["cache_size"])
	assert.Equal(t, float64(1), body["cache_fresh"])

	names, ok := body["feature_names"].([]interface{})
	require.True(t, ok)
	assert.Len(t, names, 10)

	stats, ok := body["stats"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), stats["predictions"])
}

func TestHandleHealthDegraded(t *testing.T) {
	srv := setupAPI(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["model_loaded"])
}

func TestHandleRobotsTxt(t *testing.T) {
	srv := setupAPI(t, stubBundle(&stubClassifier{hasProba: true}, 0.5))

	resp, err := http.Get(srv.URL + "/robots.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
