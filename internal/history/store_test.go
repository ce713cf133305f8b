package history

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/peerlens/peerlens/internal/detect"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	err := store.Record("demo", "mobilenet-ssd", []detect.Detection{
		{Box: [4]float64{0.1, 0.2, 0.3, 0.4}, Label: "person", Score: 0.92},
		{Box: [4]float64{0.5, 0.5, 0.9, 0.9}, Label: "dog", Score: 0.71},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record("other", "coco-ssd", []detect.Detection{
		{Box: [4]float64{0, 0, 1, 1}, Label: "cat", Score: 0.6},
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	// Newest first.
	if entries[0].Room != "other" || entries[0].Label != "cat" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Model != "mobilenet-ssd" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[1].Box != [4]float64{0.5, 0.5, 0.9, 0.9} {
		t.Errorf("entries[1].Box = %v", entries[1].Box)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestStore_RecentLimit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		if err := store.Record("demo", "m", []detect.Detection{{Label: "person", Score: 0.9}}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestStore_RecordEmptyIsNoop(t *testing.T) {
	store := openTestStore(t)
	if err := store.Record("demo", "m", nil); err != nil {
		t.Fatalf("Record(nil): %v", err)
	}
	entries, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestAPI_Recent(t *testing.T) {
	store := openTestStore(t)
	if err := store.Record("demo", "m", []detect.Detection{{Label: "person", Score: 0.9}}); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	NewAPI(store, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/detections/recent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Detections []Entry `json:"detections"`
		Count      int     `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || len(body.Detections) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Detections[0].Label != "person" {
		t.Errorf("label = %q", body.Detections[0].Label)
	}

	resp, err = http.Get(srv.URL + "/detections/recent?limit=zero")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d for bad limit", resp.StatusCode)
	}
}
