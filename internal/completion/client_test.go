package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCompleteReturnsAssistantContent(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Photosynthesis converts light into chemical energy."}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "gpt-4o-mini", 5*time.Second)
	out, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "You are a study assistant."},
		{Role: "user", Content: "What is photosynthesis?"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "Photosynthesis converts light into chemical energy." {
		t.Errorf("unexpected content: %q", out)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(gotReq.Messages))
	}
	if gotReq.Temperature != temperature {
		t.Errorf("expected fixed temperature %v, got %v", temperature, gotReq.Temperature)
	}
	if gotReq.MaxTokens != maxTokens {
		t.Errorf("expected fixed max_tokens %d, got %d", maxTokens, gotReq.MaxTokens)
	}
}

func TestCompleteProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "gpt-4o-mini", 5*time.Second)
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "gpt-4o-mini", 5*time.Second)
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestCompleteEmptyHistory(t *testing.T) {
	c := New("http://localhost:0", "sk-test", "gpt-4o-mini", time.Second)
	_, err := c.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for empty history")
	}
}

func TestCompleteHonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, "sk-test", "gpt-4o-mini", 50*time.Millisecond)
	start := time.Now()
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}
