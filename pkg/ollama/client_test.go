package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
)

func newTestServer(t *testing.T, reply string, seen *api.ChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		json.NewEncoder(w).Encode(api.ChatResponse{
			Model:   "test",
			Message: api.Message{Role: "assistant", Content: reply},
			Done:    true,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not a url"); err == nil {
		t.Error("expected error for URL without scheme")
	}
	if _, err := NewClient("http://localhost:11434/api/chat"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAnalyzeImage(t *testing.T) {
	var seen api.ChatRequest
	srv := newTestServer(t, "```json\n{\"label\":\" Receipt \",\"confidence\":0.9,\"box\":{\"x\":0.1,\"y\":0.2,\"w\":0.5,\"h\":0.4},}\n```", &seen)

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	img := []byte{0xff, 0xd8, 0xff}
	det, err := c.AnalyzeImage(context.Background(), "qwen2.5vl", "find it", base64.StdEncoding.EncodeToString(img))
	if err != nil {
		t.Fatalf("AnalyzeImage failed: %v", err)
	}
	if det.Label != "receipt" || det.Confidence != 0.9 || det.Box.W != 0.5 {
		t.Errorf("unexpected detection %+v", det)
	}

	if seen.Model != "qwen2.5vl" || len(seen.Messages) != 1 {
		t.Fatalf("unexpected request %+v", seen)
	}
	msg := seen.Messages[0]
	if msg.Content != "find it" || len(msg.Images) != 1 || !bytes.Equal(msg.Images[0], img) {
		t.Errorf("unexpected message %+v", msg)
	}
	if seen.Stream == nil || *seen.Stream {
		t.Error("expected non-streaming request")
	}
}

func TestAnalyzeImageNoJSON(t *testing.T) {
	srv := newTestServer(t, "I cannot tell.", nil)
	c, _ := NewClient(srv.URL)

	if _, err := c.AnalyzeImage(context.Background(), "m", "p", ""); err == nil {
		t.Error("expected error for non-JSON reply")
	}
}

func TestSimpleQuery(t *testing.T) {
	srv := newTestServer(t, "a receipt on a table", nil)
	c, _ := NewClient(srv.URL)

	got, err := c.SimpleQuery(context.Background(), "m", "what is this?", "")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if got != "a receipt on a table" {
		t.Errorf("got %q", got)
	}
}

func TestSimpleQueryBadBase64(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1")
	if _, err := c.SimpleQuery(context.Background(), "m", "p", "%%%"); err == nil {
		t.Error("expected base64 error")
	}
}

func TestModelOptions(t *testing.T) {
	if got := modelOptions("openbmb/minicpm-v4.5")["num_ctx"]; got != 4096 {
		t.Errorf("num_ctx = %v", got)
	}
	if _, ok := modelOptions("llava")["num_ctx"]; ok {
		t.Error("num_ctx set for generic model")
	}
}
