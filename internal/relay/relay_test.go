package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func sseFrame(t *testing.T, content string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return "data: " + string(payload) + "\n\n"
}

func streamServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamChat_TitleAndBody(t *testing.T) {
	srv := streamServer(t,
		sseFrame(t, "TITLE: Foo\nHello"),
		sseFrame(t, " world"),
	)
	defer srv.Close()

	var seen []string
	c := NewClientWithBaseURL("test-key", srv.URL)
	done, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "context here",
		func(visible string) { seen = append(seen, visible) })
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if done.Title != "Foo" {
		t.Errorf("Title = %q, want %q", done.Title, "Foo")
	}
	if done.Visible != "Hello world" {
		t.Errorf("Visible = %q, want %q", done.Visible, "Hello world")
	}
	if done.FullText != "TITLE: Foo\nHello world" {
		t.Errorf("FullText = %q, want %q", done.FullText, "TITLE: Foo\nHello world")
	}
	if len(seen) != 2 {
		t.Fatalf("sink called %d times, want 2", len(seen))
	}
	if seen[len(seen)-1] != "Hello world" {
		t.Errorf("last sink call = %q, want %q", seen[len(seen)-1], "Hello world")
	}
}

func TestStreamChat_TitleSpansFrames(t *testing.T) {
	srv := streamServer(t,
		sseFrame(t, "TIT"),
		sseFrame(t, "LE: Split "),
		sseFrame(t, "Title\nbody"),
	)
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	done, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if done.Title != "Split Title" {
		t.Errorf("Title = %q, want %q", done.Title, "Split Title")
	}
	if done.Visible != "body" {
		t.Errorf("Visible = %q, want %q", done.Visible, "body")
	}
}

func TestStreamChat_DecoratedTitle(t *testing.T) {
	srv := streamServer(t, sseFrame(t, "**TITLE:** *Fancy Name*\nanswer"))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	done, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if done.Title != "Fancy Name" {
		t.Errorf("Title = %q, want %q", done.Title, "Fancy Name")
	}
}

func TestStreamChat_NoTitle(t *testing.T) {
	srv := streamServer(t, sseFrame(t, "just an answer without newline"))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	done, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if done.Title != "" {
		t.Errorf("Title = %q, want empty", done.Title)
	}
	if done.Visible != "just an answer without newline" {
		t.Errorf("Visible = %q", done.Visible)
	}
}

func TestStreamChat_MalformedFrameSkipped(t *testing.T) {
	srv := streamServer(t,
		sseFrame(t, "TITLE: Ok\nfirst"),
		"data: {not json}\n\n",
		sseFrame(t, " second"),
	)
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	done, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if done.Visible != "first second" {
		t.Errorf("Visible = %q, want %q", done.Visible, "first second")
	}
}

func TestStreamChat_SystemPromptAndDirective(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "Answer based on the provided context:\nstuff", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if !gotReq.Stream {
		t.Error("request not marked streaming")
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(gotReq.Messages))
	}
	sys := gotReq.Messages[0]
	if sys.Role != "system" {
		t.Errorf("first message role = %q, want system", sys.Role)
	}
	if !strings.HasPrefix(sys.Content, "At the beginning of your answer") {
		t.Errorf("system prompt missing title directive: %q", sys.Content)
	}
	if !strings.HasSuffix(sys.Content, "stuff") {
		t.Errorf("system prompt missing caller prompt: %q", sys.Content)
	}
}

func TestStreamChat_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no credits", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if up.Status != http.StatusPaymentRequired {
		t.Errorf("Status = %d, want %d", up.Status, http.StatusPaymentRequired)
	}
	if !strings.Contains(up.Body, "no credits") {
		t.Errorf("Body = %q, want it to contain %q", up.Body, "no credits")
	}
}

func TestStreamChat_RateLimit_Retry(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame(t, "ok\n"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	done, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if done.Title != "ok" {
		t.Errorf("Title = %q, want %q", done.Title, "ok")
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestStreamChat_ContextCancellation(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-handlerDone
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		c := NewClientWithBaseURL("test-key", srv.URL)
		_, err := c.StreamChat(ctx, "test-model",
			[]Message{{Role: "user", Content: "hi"}}, "", nil)
		done <- err
	}()

	<-handlerStarted
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StreamChat did not return promptly after context cancellation")
	}

	close(handlerDone)
}

func TestStreamChat_AuthHeader(t *testing.T) {
	var gotAuth, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.StreamChat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, "", nil); err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-key")
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Accept = %q, want %q", gotAccept, "text/event-stream")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"free/model","name":"Free Model","pricing":{"prompt":"0"}},
			{"id":"paid/model","name":"Paid Model","pricing":{"prompt":"0.000002"}}
		]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if !models[0].Free {
		t.Errorf("%s should be free", models[0].ID)
	}
	if models[1].Free {
		t.Errorf("%s should not be free", models[1].ID)
	}
	if models[0].Name != "Free Model" {
		t.Errorf("Name = %q, want %q", models[0].Name, "Free Model")
	}
}

func TestListModels_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("bad-key", srv.URL)
	_, err := c.ListModels(context.Background())

	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if up.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", up.Status, http.StatusUnauthorized)
	}
}

func TestTitleSplitter_VisibleBeforeNewline(t *testing.T) {
	var s titleSplitter
	s.Append("TITLE: pend")
	if got := s.Visible(); got != "TITLE: pend" {
		t.Errorf("Visible = %q, want raw buffer before newline", got)
	}
	s.Append("ing\nbody")
	if got := s.Visible(); got != "body" {
		t.Errorf("Visible = %q, want %q", got, "body")
	}
	if got := s.Title(); got != "pending" {
		t.Errorf("Title = %q, want %q", got, "pending")
	}
}
