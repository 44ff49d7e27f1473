package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greenstack/leafserve/internal/cache"
	"github.com/greenstack/leafserve/internal/config"
	"github.com/greenstack/leafserve/internal/drivers"
	"github.com/greenstack/leafserve/internal/inference"
	"github.com/greenstack/leafserve/internal/model"
	"github.com/greenstack/leafserve/internal/registry"
	"github.com/greenstack/leafserve/internal/resolver"
	"github.com/greenstack/leafserve/internal/stats"
	"github.com/greenstack/leafserve/internal/store"
)

type testEnv struct {
	server   *Server
	store    *store.Store
	registry registry.Registry
	cache    *cache.Cache
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Model.FallbackPath = ""
	if mutate != nil {
		mutate(cfg)
	}

	logger := zap.NewNop()
	driver := drivers.NewLocalDriver(t.TempDir(), logger)
	st := store.New(driver, cfg.Storage.Bucket, logger)
	reg := registry.NewMemory()
	res := resolver.New(st, reg, cfg.Model.Name, cfg.Model.FallbackPath, cfg.Model.TierTimeout, logger)
	c := cache.New(logger)
	s := stats.New()
	eng := inference.New(c, s, cfg.Model.MaxBatchSize, logger)

	return &testEnv{
		server:   NewServer(cfg, logger, st, reg, res, c, eng, s),
		store:    st,
		registry: reg,
		cache:    c,
	}
}

func checkpointPayload(t *testing.T) []byte {
	t.Helper()
	header := model.Header{
		Architecture: "pooled-linear",
		ClassNames:   []string{"dandelion", "grass"},
		NumClasses:   2,
		InputSpec: model.InputSpec{
			Size: 224,
			Mean: [3]float64{0.485, 0.456, 0.406},
			Std:  [3]float64{0.229, 0.224, 0.225},
		},
		FeatureDim: 6,
	}
	payload, err := model.Encode(header,
		[][]float64{
			{1, 0.5, -1, 0, 0, 0},
			{-1, 0.5, 1, 0, 0, 0},
		},
		[]float64{0, 0})
	require.NoError(t, err)
	return payload
}

func solidImage(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// publishAndLoad commits a version to the store and installs it in the cache
func publishAndLoad(t *testing.T, env *testEnv, version string) {
	t.Helper()
	ctx := context.Background()
	_, err := env.store.Put(ctx, "plant_classifier", version, checkpointPayload(t),
		map[string]string{"val_acc": "0.93"}, nil)
	require.NoError(t, err)
	_, err = env.server.Reload(ctx)
	require.NoError(t, err)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func multipartBody(t *testing.T, field string, files map[string][]byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestServer_HealthBeforeAndAfterLoad(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := doJSON(t, env.server.Router(), "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model_not_loaded", body["status"])
	assert.Equal(t, false, body["model_loaded"])

	publishAndLoad(t, env, "20250101_000000")

	rec, body = doJSON(t, env.server.Router(), "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, "store-latest", body["model_source"])
	assert.Equal(t, "20250101_000000", body["model_version"])
}

func TestServer_PredictRawBody(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	req := httptest.NewRequest("POST", "/predict",
		bytes.NewReader(solidImage(t, color.RGBA{R: 255, G: 220, B: 30, A: 255})))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var pred inference.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Equal(t, "dandelion", pred.PredictedClass)
	assert.Greater(t, pred.Confidence, 0.5)
	assert.Equal(t, "20250101_000000", pred.ModelVersion)
}

func TestServer_PredictMultipart(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	body, contentType := multipartBody(t, "file",
		map[string][]byte{"grass.png": solidImage(t, color.RGBA{R: 60, G: 160, B: 60, A: 255})}, nil)
	req := httptest.NewRequest("POST", "/predict", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var pred inference.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Equal(t, "grass", pred.PredictedClass)
}

func TestServer_PredictErrorMapping(t *testing.T) {
	t.Run("model not loaded is 503", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest("POST", "/predict", strings.NewReader("junk"))
		req.Header.Set("Content-Type", "image/png")
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("invalid image is 400", func(t *testing.T) {
		env := newTestEnv(t, nil)
		publishAndLoad(t, env, "20250101_000000")
		req := httptest.NewRequest("POST", "/predict", strings.NewReader("not an image"))
		req.Header.Set("Content-Type", "image/png")
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_PredictBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	yellow := solidImage(t, color.RGBA{R: 255, G: 220, B: 30, A: 255})
	body, contentType := multipartBody(t, "files", map[string][]byte{
		"a.png":      yellow,
		"b.png":      yellow,
		"broken.png": []byte("garbage"),
	}, nil)

	req := httptest.NewRequest("POST", "/predict/batch", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result inference.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
}

func TestServer_PredictBatchTooLarge(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	files := map[string][]byte{}
	for i := 0; i < 11; i++ {
		files[fmt.Sprintf("img%02d.png", i)] = solidImage(t, color.RGBA{R: 255, A: 255})
	}
	body, contentType := multipartBody(t, "files", files, nil)

	req := httptest.NewRequest("POST", "/predict/batch", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ModelInfo(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := doJSON(t, env.server.Router(), "GET", "/model/info", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	publishAndLoad(t, env, "20250101_000000")

	rec, body := doJSON(t, env.server.Router(), "GET", "/model/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pooled-linear", body["architecture"])
	assert.Equal(t, float64(224), body["input_size"])
	assert.Equal(t, "20250101_000000", body["model_version"])
	classes, ok := body["class_names"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"dandelion", "grass"}, classes)
}

func TestServer_ReloadPicksUpNewVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	_, err := env.store.Put(context.Background(), "plant_classifier", "20250201_000000",
		checkpointPayload(t), nil, nil)
	require.NoError(t, err)

	rec, body := doJSON(t, env.server.Router(), "POST", "/model/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "20250201_000000", body["model_version"])
}

func TestServer_ReloadFailureKeepsServing(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	// commit a version whose payload is not a checkpoint and promote it,
	// bypassing the API guard; resolution succeeds but decoding cannot
	ctx := context.Background()
	_, err := env.store.Put(ctx, "plant_classifier", "20250301_000000",
		[]byte("corrupt"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, env.registry.Promote(ctx, "plant_classifier", "20250301_000000"))

	rec, _ := doJSON(t, env.server.Router(), "POST", "/model/reload", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	// the previously installed handle still serves
	handle, err := env.cache.Current()
	require.NoError(t, err)
	assert.Equal(t, "20250101_000000", handle.Version)
}

func TestServer_UploadListDeleteVersion(t *testing.T) {
	env := newTestEnv(t, nil)

	body, contentType := multipartBody(t, "file",
		map[string][]byte{"model.ckpt": checkpointPayload(t)},
		map[string]string{"version": "20250401_000000", "metadata": `{"val_acc":"0.95"}`})
	req := httptest.NewRequest("POST", "/models/plant_classifier/versions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var manifest store.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	assert.Equal(t, "20250401_000000", manifest.Version)
	assert.Equal(t, "0.95", manifest.Metadata["val_acc"])

	rec2, listBody := doJSON(t, env.server.Router(), "GET", "/models/plant_classifier/versions", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	versions, ok := listBody["versions"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"20250401_000000"}, versions)

	rec3, _ := doJSON(t, env.server.Router(), "DELETE", "/models/plant_classifier/versions/20250401_000000", nil)
	assert.Equal(t, http.StatusNoContent, rec3.Code)

	_, listBody = doJSON(t, env.server.Router(), "GET", "/models/plant_classifier/versions", nil)
	assert.Empty(t, listBody["versions"])
}

func TestServer_UploadGeneratesVersion(t *testing.T) {
	env := newTestEnv(t, nil)

	body, contentType := multipartBody(t, "file",
		map[string][]byte{"model.ckpt": checkpointPayload(t)}, nil)
	req := httptest.NewRequest("POST", "/models/plant_classifier/versions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var manifest store.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	assert.Regexp(t, `^\d{8}_\d{6}`, manifest.Version)
}

func TestServer_UploadConflictIs409(t *testing.T) {
	env := newTestEnv(t, nil)

	upload := func() *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, "file",
			map[string][]byte{"model.ckpt": checkpointPayload(t)},
			map[string]string{"version": "20250401_000000"})
		req := httptest.NewRequest("POST", "/models/plant_classifier/versions", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, upload().Code)
	assert.Equal(t, http.StatusConflict, upload().Code)
}

func TestServer_PromoteAndDemote(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, v := range []string{"20250101_000000", "20250201_000000"} {
		_, err := env.store.Put(ctx, "plant_classifier", v, checkpointPayload(t), nil, nil)
		require.NoError(t, err)
	}

	// promoting an uncommitted version is refused
	rec, _ := doJSON(t, env.server.Router(), "POST", "/models/plant_classifier/promote",
		[]byte(`{"version":"20990101_000000"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := doJSON(t, env.server.Router(), "POST", "/models/plant_classifier/promote",
		[]byte(`{"version":"20250101_000000"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "promoted", body["status"])

	// the pinned version wins over the newer latest
	_, err := env.server.Reload(ctx)
	require.NoError(t, err)
	handle, err := env.cache.Current()
	require.NoError(t, err)
	assert.Equal(t, "20250101_000000", handle.Version)
	assert.Equal(t, "registry-promoted", handle.Source.String())

	rec, _ = doJSON(t, env.server.Router(), "DELETE", "/models/plant_classifier/promote", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = env.server.Reload(ctx)
	require.NoError(t, err)
	handle, err = env.cache.Current()
	require.NoError(t, err)
	assert.Equal(t, "20250201_000000", handle.Version)
	assert.Equal(t, "store-latest", handle.Source.String())
}

func TestServer_AdminAuth(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.AdminSecret = "test-secret"
	})

	rec, _ := doJSON(t, env.server.Router(), "POST", "/model/reload", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("POST", "/model/reload", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	bad := httptest.NewRecorder()
	env.server.Router().ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	publishAndLoad(t, env, "20250101_000000")
	token, err := GenerateAdminToken("test-secret", "ops", time.Minute)
	require.NoError(t, err)

	req = httptest.NewRequest("POST", "/model/reload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	good := httptest.NewRecorder()
	env.server.Router().ServeHTTP(good, req)
	assert.Equal(t, http.StatusOK, good.Code)
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 1
		cfg.Server.RateBurst = 1
	})
	publishAndLoad(t, env, "20250101_000000")

	raw := solidImage(t, color.RGBA{R: 255, G: 220, B: 30, A: 255})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/predict", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "image/png")
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)

	// a different client has its own bucket and is not affected
	req := httptest.NewRequest("POST", "/predict", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PredictClientGone(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := solidImage(t, color.RGBA{R: 255, G: 220, B: 30, A: 255})
	req := httptest.NewRequest("POST", "/predict", bytes.NewReader(raw)).WithContext(ctx)
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	// a disconnect is not a server fault
	assert.Equal(t, statusClientClosedRequest, rec.Code)
}

func TestServer_StatsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	publishAndLoad(t, env, "20250101_000000")

	raw := solidImage(t, color.RGBA{R: 255, G: 220, B: 30, A: 255})
	req := httptest.NewRequest("POST", "/predict", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2, body := doJSON(t, env.server.Router(), "GET", "/stats", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, float64(1), body["predictions_count"])
	assert.Equal(t, float64(0), body["failed_predictions"])
	assert.GreaterOrEqual(t, body["avg_inference_time_ms"], float64(0))
}
