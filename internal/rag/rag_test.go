package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch_PrefersPrebuiltContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Query != "parking" {
			t.Errorf("query = %q", req.Query)
		}
		_, _ = w.Write([]byte(`{"context":"Two covered spots per flat.","results":[{"text":"ignored"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	got, err := c.Search(context.Background(), "parking")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got != "Two covered spots per flat." {
		t.Fatalf("context = %q", got)
	}
}

func TestSearch_JoinsResultTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"text":"first"},{"text":"  "},{"text":"second"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	got, err := c.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got != "first\nsecond" {
		t.Fatalf("context = %q", got)
	}
}

func TestSearch_EmptyQueryShortCircuits(t *testing.T) {
	c := NewClient(nil, "http://127.0.0.1:0")
	got, err := c.Search(context.Background(), "   ")
	if err != nil || got != "" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSearch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestBusinessSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/summary" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"summary":" Sunrise Realty, Hyderabad "}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	got, err := c.BusinessSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got != "Sunrise Realty, Hyderabad" {
		t.Fatalf("summary = %q", got)
	}
}

func TestNoop(t *testing.T) {
	var r Retriever = Noop{}
	if got, err := r.Search(context.Background(), "q"); err != nil || got != "" {
		t.Fatalf("noop search: %q, %v", got, err)
	}
	if got, err := r.BusinessSummary(context.Background()); err != nil || got != "" {
		t.Fatalf("noop summary: %q, %v", got, err)
	}
}
