//go:build cgo

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/goextract"
)

func TestExtractionIsLogged(t *testing.T) {
	cfg := testConfig()
	cfg.CaseStore = goextract.CaseStoreSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "goextract.db")
	h := newTestServer(t, cfg, "")

	body := `{"task": "NER", "text": "The capital of Guinea is Conakry."}`
	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp goextract.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/extractions/"+resp.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/extractions = %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"task":"NER"`) || !strings.Contains(rec.Body.String(), "Guinea") {
		t.Errorf("logged extraction = %s", rec.Body)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/cases/stats", nil))
	if !strings.Contains(rec.Body.String(), `"extractions":1`) {
		t.Errorf("stats = %s", rec.Body)
	}
}

func TestCaseSearch(t *testing.T) {
	cfg := testConfig()
	cfg.CaseStore = goextract.CaseStoreSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "goextract.db")
	h := newTestServer(t, cfg, "")

	body := `{"task": "NER", "text": "The capital of Guinea is Conakry.", "update_case": true, "truth": ` + nerAnswer + `}`
	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("extract status = %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/cases/search?q=Conakry&task=ner", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		Cases []struct {
			Task    string  `json:"task"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"cases"`
		Trace struct {
			FTSResults int `json:"fts_results"`
		} `json:"trace"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Cases) == 0 || out.Trace.FTSResults == 0 {
		t.Fatalf("no cases found: %s", rec.Body)
	}
	if out.Cases[0].Task != "NER" || !strings.Contains(out.Cases[0].Content, "Conakry") || out.Cases[0].Score <= 0 {
		t.Errorf("top case = %+v", out.Cases[0])
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/cases/search?q=Conakry&task=nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad task status = %d, want 400", rec.Code)
	}
}
