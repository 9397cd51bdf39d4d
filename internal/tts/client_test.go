package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTruncate_ShortTextUntouched(t *testing.T) {
	if got := Truncate("hello there", 490); got != "hello there" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate_CutsAtSentenceBoundary(t *testing.T) {
	text := strings.Repeat("a", 300) + ". " + strings.Repeat("b", 300)
	got := Truncate(text, 490)
	want := strings.Repeat("a", 300) + "."
	if got != want {
		t.Fatalf("got %q (len %d)", got, len(got))
	}
}

func TestTruncate_IgnoresEarlySentenceBoundary(t *testing.T) {
	// A period before the midpoint must not win over a word boundary.
	text := "Hi. " + strings.Repeat("word ", 120)
	got := Truncate(text, 490)
	if strings.HasSuffix(got, "Hi.") {
		t.Fatalf("cut at early sentence boundary: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if len([]rune(got)) > 493 {
		t.Fatalf("result too long: %d runes", len([]rune(got)))
	}
}

func TestTruncate_HardCutWithoutSpaces(t *testing.T) {
	text := strings.Repeat("x", 600)
	got := Truncate(text, 490)
	if got != strings.Repeat("x", 490)+"..." {
		t.Fatalf("got len %d, suffix %q", len(got), got[len(got)-5:])
	}
}

func TestTruncate_DevanagariFullStop(t *testing.T) {
	text := strings.Repeat("क", 300) + "।" + strings.Repeat("ख", 300)
	got := Truncate(text, 490)
	if !strings.HasSuffix(got, "।") {
		t.Fatalf("expected devanagari boundary cut, got suffix %q", got[len(got)-3:])
	}
	if len([]rune(got)) != 301 {
		t.Fatalf("rune length = %d, want 301", len([]rune(got)))
	}
}

func TestSynthesize_DecodesAudio(t *testing.T) {
	wav := []byte("RIFFfake-wav-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("api-subscription-key") != "key" {
			t.Errorf("missing subscription key")
		}
		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Inputs) != 1 || req.Inputs[0] != "Hello." {
			t.Errorf("inputs = %v", req.Inputs)
		}
		if req.Speaker != "vidya" || req.Model != "bulbul:v2" || req.AudioFormat != "wav" {
			t.Errorf("request fields wrong: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(synthesizeResponse{
			Audios: []string{base64.StdEncoding.EncodeToString(wav)},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "key", "", "", "", 0)
	c.BaseURL = srv.URL
	got, err := c.Synthesize(context.Background(), "Hello.")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !bytes.Equal(got, wav) {
		t.Fatalf("audio mismatch")
	}
}

func TestSynthesize_NoKey(t *testing.T) {
	c := NewClient(nil, "", "", "", "", 0)
	if _, err := c.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "key", "", "", "", 0)
	c.BaseURL = srv.URL
	if _, err := c.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestSynthesize_EmptyAudios(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(synthesizeResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "key", "", "", "", 0)
	c.BaseURL = srv.URL
	if _, err := c.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error on empty audios")
	}
}

func TestLastSeparator(t *testing.T) {
	if got := lastSeparator("no boundary here"); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
	if got := lastSeparator("one. two, three"); got != 8 {
		t.Fatalf("got %d, want 8", got)
	}
}
