package detect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAPI(t *testing.T, backend Backend, sanitize bool) *httptest.Server {
	t.Helper()
	e := newTestEngine(t, backend, true)
	mux := http.NewServeMux()
	NewAPI(e, nil, sanitize).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postDetect(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/detect", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestAPI_Detect(t *testing.T) {
	backend := &fakeBackend{output: []float32{0, 1, 0.9, 0.1, 0.1, 0.9, 0.9}}
	srv := newTestAPI(t, backend, false)

	resp, body := postDetect(t, srv, `{"image":"`+encodedImage(200)+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}

	dets, ok := body["detections"].([]any)
	if !ok || len(dets) != 1 {
		t.Fatalf("detections = %v", body["detections"])
	}
	det := dets[0].(map[string]any)
	if det["class"] != "cat" {
		t.Errorf("class = %v", det["class"])
	}
	if _, ok := det["bbox"].([]any); !ok {
		t.Errorf("bbox = %v", det["bbox"])
	}

	meta := body["metadata"].(map[string]any)
	if meta["modelType"] != "test-model" || meta["count"] != float64(1) {
		t.Errorf("metadata = %v", meta)
	}
}

func TestAPI_DetectErrors(t *testing.T) {
	backend := &fakeBackend{output: []float32{0, 1, 0.9, 0.1, 0.1, 0.9, 0.9}}
	srv := newTestAPI(t, backend, false)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing image", `{}`, http.StatusBadRequest, "MISSING_IMAGE"},
		{"bad base64", `{"image":"!!!"}`, http.StatusBadRequest, "INVALID_IMAGE_FORMAT"},
		{"malformed json", `{"image":`, http.StatusBadRequest, "INVALID_IMAGE_FORMAT"},
		{"unknown field", `{"image":"aGk=","surprise":1}`, http.StatusBadRequest, "INVALID_IMAGE_FORMAT"},
		{"unknown model", `{"image":"` + encodedImage(200) + `","modelType":"nope"}`, http.StatusNotFound, "MODEL_NOT_FOUND"},
	}

	for _, tc := range cases {
		resp, body := postDetect(t, srv, tc.body)
		if resp.StatusCode != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.status)
		}
		if body["code"] != tc.code {
			t.Errorf("%s: code = %v, want %s", tc.name, body["code"], tc.code)
		}
		if body["success"] != false {
			t.Errorf("%s: success = %v", tc.name, body["success"])
		}
	}
}

func TestAPI_DetectFailureSanitizedInProd(t *testing.T) {
	srv := newTestAPI(t, &fakeBackend{loadErr: http.ErrBodyNotAllowed}, true)

	resp, body := postDetect(t, srv, `{"image":"`+encodedImage(200)+`"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["code"] != "DETECTION_FAILED" {
		t.Errorf("code = %v", body["code"])
	}
	if msg := body["error"].(string); strings.Contains(msg, http.ErrBodyNotAllowed.Error()) {
		t.Errorf("error message leaked details: %q", msg)
	}
}

func TestAPI_ListModels(t *testing.T) {
	srv := newTestAPI(t, &fakeBackend{}, false)

	resp, err := http.Get(srv.URL + "/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Models       []map[string]any `json:"models"`
		DefaultModel string           `json:"defaultModel"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Models) != 1 || body.Models[0]["id"] != "test-model" {
		t.Errorf("models = %v", body.Models)
	}
	if body.DefaultModel != "test-model" {
		t.Errorf("defaultModel = %q", body.DefaultModel)
	}
}

func TestAPI_GetModel(t *testing.T) {
	backend := &fakeBackend{output: []float32{0, 1, 0.9, 0.1, 0.1, 0.9, 0.9}}
	srv := newTestAPI(t, backend, false)

	resp, err := http.Get(srv.URL + "/models/test-model")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["loaded"] != false {
		t.Errorf("loaded = %v before any detect call", body["loaded"])
	}

	resp, err = http.Get(srv.URL + "/models/absent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d for unknown model", resp.StatusCode)
	}
}

func TestAPI_Health(t *testing.T) {
	srv := newTestAPI(t, &fakeBackend{}, false)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status          string   `json:"status"`
		AvailableModels []string `json:"availableModels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || len(body.AvailableModels) != 1 {
		t.Errorf("health = %+v", body)
	}
}
