package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaChat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		fmt.Fprint(w, `{"message":{"content":"In wood tunnels."},"done":true}`)
	}))
	defer srv.Close()

	c, err := New(Config{Provider: ProviderOllama, BaseURL: srv.URL, Temperature: 0.2})
	if err != nil {
		t.Fatal(err)
	}

	reply, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "In wood tunnels." {
		t.Errorf("reply = %q", reply)
	}
	if got.Model != "llama3.2" {
		t.Errorf("default model = %q", got.Model)
	}
	if got.Stream {
		t.Error("Chat should not request streaming")
	}
	if got.Options == nil || got.Options.Temperature != 0.2 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestOllamaChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Newline-delimited JSON, one object per chunk.
		fmt.Fprintln(w, `{"message":{"content":"In "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"wood."},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	c, err := New(Config{Provider: ProviderOllama, BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	var deltas []string
	reply, err := c.ChatStream(context.Background(), []Message{{Role: "user", Content: "q"}}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "In wood." {
		t.Errorf("reply = %q", reply)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestOllamaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	c, err := New(Config{Provider: ProviderOllama, BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOllamaJSONMode(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":{"content":"{}"},"done":true}`)
	}))
	defer srv.Close()

	c, err := New(Config{Provider: ProviderOllama, BaseURL: srv.URL, JSONMode: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}); err != nil {
		t.Fatal(err)
	}
	if got.Format != "json" {
		t.Errorf("format = %q", got.Format)
	}
}
