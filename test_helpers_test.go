package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"go-badge-printer/badge"
	"go-badge-printer/images"
	"go-badge-printer/metrics"
	"go-badge-printer/notify"
	"go-badge-printer/operator"
	"go-badge-printer/printdoc"
	"go-badge-printer/printing"
	"go-badge-printer/render"

	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://localhost:8081"
const testInstitutionalRef = "/images/signature-institution.png"
const testOperatorID = 5

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

type testEnv struct {
	storage   *InMemoryDialogStorage
	merchants *fakeMerchantClient
	converter *fakeImageConverter
	outputDir string
	token     string
}

func startTestServer(t *testing.T, merchants *fakeMerchantClient, converter *fakeImageConverter) *testEnv {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	verifier, err := operator.NewVerifierFromPEM(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), "")
	require.NoError(t, err)
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, operator.Claims{
		UserID:           testOperatorID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(key)
	require.NoError(t, err)

	outputDir := t.TempDir()
	saver, err := printdoc.NewFileSaver(outputDir)
	require.NoError(t, err)
	renderer, err := render.NewRenderer(100)
	require.NoError(t, err)
	messages, err := notify.LoadMessages()
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	storage := NewInMemoryDialogStorage()
	generator := printdoc.NewGenerator(converter, saver, testInstitutionalRef, printdoc.WithEmbedObserver(m))

	testState := &ServerState{
		dialogStorage:    storage,
		merchants:        merchants,
		printService:     printing.NewService(storage, generator, printing.NewRecorder(merchants), printing.WithMetrics(m)),
		converter:        converter,
		renderer:         renderer,
		documents:        saver,
		messages:         messages,
		verifier:         verifier,
		metricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		institutionalRef: testInstitutionalRef,
	}

	srv, err := NewServer(testState, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testBaseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return &testEnv{
		storage:   storage,
		merchants: merchants,
		converter: converter,
		outputDir: outputDir,
		token:     token,
	}
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func doRequest(t *testing.T, method, path, token string, payload any, headers ...string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	req, err := http.NewRequest(method, testBaseURL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func decodeJSON[T any](t *testing.T, body []byte) *T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), "body: %s", body)
	return &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

// test doubles

const testMerchant42 = `{
	"id": 42,
	"person": {"last_name": "Bah", "first_name": "Cellou"},
	"role": "Commerçant",
	"nationality": "Guinéenne",
	"activities": ["Commerce"],
	"profile_photo": "https://cdn.example/photo-42.jpg",
	"signature_photo": null,
	"phone": "+224 600 00 00 00",
	"printed": false
}`

type fakeMerchantClient struct {
	mu           sync.Mutex
	records      map[int64]string
	fetchErr     error
	updates      []map[string]any
	updateStatus any
	updateErr    error
}

func newFakeMerchantClient() *fakeMerchantClient {
	return &fakeMerchantClient{
		records:      map[int64]string{42: testMerchant42},
		updateStatus: "success",
	}
}

func (f *fakeMerchantClient) GetMerchant(_ context.Context, id int64) (*badge.CardRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	raw, ok := f.records[id]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	var record badge.CardRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (f *fakeMerchantClient) UpdateMerchant(_ context.Context, _ int64, payload map[string]any) (*printing.UpdateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, payload)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &printing.UpdateResponse{HTTPStatus: http.StatusOK, Status: f.updateStatus}, nil
}

func (f *fakeMerchantClient) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeImageConverter struct {
	mu      sync.Mutex
	rasters map[string]*images.Raster
}

func newFakeImageConverter(t *testing.T) *fakeImageConverter {
	t.Helper()
	return &fakeImageConverter{rasters: map[string]*images.Raster{
		testInstitutionalRef:               solidRaster(t, 60, 32, color.RGBA{B: 200, A: 255}),
		"https://cdn.example/photo-42.jpg": solidRaster(t, 40, 50, color.RGBA{R: 200, A: 255}),
	}}
}

func (f *fakeImageConverter) ToEmbeddablePixels(_ context.Context, ref string) (*images.Raster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rasters[ref]; ok {
		return r, nil
	}
	return nil, errors.New("image unavailable")
}

func (f *fakeImageConverter) remove(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rasters, ref)
}

func solidRaster(t *testing.T, w, h int, c color.Color) *images.Raster {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	b, err := images.EncodePNG(img)
	require.NoError(t, err)
	return &images.Raster{Image: img, PNG: b, Width: w, Height: h}
}
