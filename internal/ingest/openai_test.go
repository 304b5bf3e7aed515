package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/logger"
)

func tempPDF(t *testing.T) Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return Document{Path: path, Name: "a.pdf"}
}

func chatReply(t *testing.T, invoices []ExtractedInvoice, tokensIn, tokensOut int) []byte {
	t.Helper()
	content, err := json.Marshal(extractionPayload{Invoices: invoices})
	if err != nil {
		t.Fatal(err)
	}
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": string(content)}},
		},
		"usage": map[string]any{
			"prompt_tokens":     tokensIn,
			"completion_tokens": tokensOut,
		},
	}
	body, err := json.Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func testExtractorConfig(baseURL string) OpenAIConfig {
	return OpenAIConfig{
		BaseURL:       baseURL,
		APIKey:        "test-key",
		PrimaryModel:  "gpt-4o-mini",
		FallbackModel: "gpt-4o",
		PromptVersion: "v1",
		FallbackBelow: 0.8,
		MaxAttempts:   3,
		Timeout:       5 * time.Second,
	}
}

func TestOpenAIExtract_Success(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(chatReply(t, []ExtractedInvoice{validExtraction()}, 1000, 200))
	}))
	defer srv.Close()

	x := NewOpenAIExtractor(testExtractorConfig(srv.URL), logger.New(logger.LevelError))
	ex, err := x.Extract(context.Background(), tempPDF(t))
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
	if len(gotReq.ResponseFormat) == 0 {
		t.Fatal("structured-output schema must be sent")
	}

	if len(ex.Invoices) != 1 || ex.Invoices[0].InvoiceNr != "INV-1" {
		t.Fatalf("invoices = %+v", ex.Invoices)
	}
	if ex.Model != "gpt-4o-mini" || ex.PromptVersion != "v1" {
		t.Fatalf("provenance = %s/%s", ex.Model, ex.PromptVersion)
	}
	if ex.TokensInput != 1000 || ex.TokensOutput != 200 {
		t.Fatalf("tokens = %d/%d", ex.TokensInput, ex.TokensOutput)
	}
	want := (1000*0.15 + 200*0.60) / 1_000_000
	if ex.CostUSD < want-1e-12 || ex.CostUSD > want+1e-12 {
		t.Fatalf("cost = %v, want %v", ex.CostUSD, want)
	}
	if ex.RawResponse == "" {
		t.Fatal("verbatim response body must be captured")
	}
}

func TestOpenAIExtract_RetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatReply(t, []ExtractedInvoice{validExtraction()}, 100, 50))
	}))
	defer srv.Close()

	x := NewOpenAIExtractor(testExtractorConfig(srv.URL), logger.New(logger.LevelError))
	ex, err := x.Extract(context.Background(), tempPDF(t))
	if err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want retry after 429", calls)
	}
	if len(ex.Invoices) != 1 {
		t.Fatalf("invoices = %+v", ex.Invoices)
	}
}

func TestOpenAIExtract_BadRequestIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	x := NewOpenAIExtractor(testExtractorConfig(srv.URL), logger.New(logger.LevelError))
	_, err := x.Extract(context.Background(), tempPDF(t))

	var aerr *AdapterError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want AdapterError", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, 4xx must not be retried", calls)
	}
}

func TestOpenAIExtract_MalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "sorry, no JSON today"}},
			},
		}
		json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	x := NewOpenAIExtractor(testExtractorConfig(srv.URL), logger.New(logger.LevelError))
	_, err := x.Extract(context.Background(), tempPDF(t))

	var aerr *AdapterError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want AdapterError for malformed output", err)
	}
}

func TestOpenAIExtract_FallbackOnLowConfidence(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)

		inv := validExtraction()
		if req.Model == "gpt-4o-mini" {
			inv.Confidence = 0.4
		} else {
			inv.Confidence = 0.92
		}
		w.Write(chatReply(t, []ExtractedInvoice{inv}, 1000, 100))
	}))
	defer srv.Close()

	x := NewOpenAIExtractor(testExtractorConfig(srv.URL), logger.New(logger.LevelError))
	ex, err := x.Extract(context.Background(), tempPDF(t))
	if err != nil {
		t.Fatal(err)
	}

	if len(models) != 2 || models[0] != "gpt-4o-mini" || models[1] != "gpt-4o" {
		t.Fatalf("models called = %v", models)
	}
	if ex.Model != "gpt-4o" {
		t.Fatalf("result model = %s, want fallback", ex.Model)
	}
	if ex.Invoices[0].Confidence != 0.92 {
		t.Fatalf("confidence = %v, want fallback result", ex.Invoices[0].Confidence)
	}

	primaryCost := modelCost("gpt-4o-mini", 1000, 100)
	fallbackCost := modelCost("gpt-4o", 1000, 100)
	want := primaryCost + fallbackCost
	if ex.CostUSD < want-1e-12 || ex.CostUSD > want+1e-12 {
		t.Fatalf("cost = %v, want both calls summed (%v)", ex.CostUSD, want)
	}
}

func TestOpenAIExtract_ConfidentPrimarySkipsFallback(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(chatReply(t, []ExtractedInvoice{validExtraction()}, 100, 50))
	}))
	defer srv.Close()

	x := NewOpenAIExtractor(testExtractorConfig(srv.URL), logger.New(logger.LevelError))
	if _, err := x.Extract(context.Background(), tempPDF(t)); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, confident primary result must not trigger fallback", calls)
	}
}

func TestOpenAIExtract_MissingFile(t *testing.T) {
	x := NewOpenAIExtractor(testExtractorConfig("http://127.0.0.1:0"), logger.New(logger.LevelError))
	_, err := x.Extract(context.Background(), Document{Path: "/nowhere/a.pdf", Name: "a.pdf"})

	var aerr *AdapterError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want AdapterError", err)
	}
}

func TestModelCost(t *testing.T) {
	got := modelCost("gpt-4o", 1_000_000, 1_000_000)
	if got != 12.50 {
		t.Fatalf("cost = %v, want 12.50", got)
	}
	// unknown models fall back to the cheapest pricing
	if modelCost("mystery", 1_000_000, 0) != 0.15 {
		t.Fatal("unknown model must use gpt-4o-mini pricing")
	}
}
