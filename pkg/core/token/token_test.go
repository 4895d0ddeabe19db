package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voiceloop/voiceloop/pkg/core"
	"github.com/voiceloop/voiceloop/pkg/core/live"
)

func TestClient_Token(t *testing.T) {
	var gotReq tokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tkn-xyz"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tok, err := c.Token(context.Background(), live.TokenRequest{
		Character: "nova",
		Mode:      "casual",
		Flags:     map[string]string{"spice": "mild"},
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tkn-xyz" {
		t.Errorf("token = %q, want tkn-xyz", tok)
	}
	if gotReq.Character != "nova" || gotReq.Mode != "casual" || gotReq.Flags["spice"] != "mild" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestClient_Token_EndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "character not allowed"},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Token(context.Background(), live.TokenRequest{Character: "nova"})
	if err == nil {
		t.Fatal("expected error")
	}
	if core.TypeOf(err) != core.ErrCredentialFetch {
		t.Errorf("error type = %v, want credential_fetch_failed", core.TypeOf(err))
	}
	cerr := err.(*core.Error)
	if cerr.Message != "character not allowed" {
		t.Errorf("message = %q, want endpoint message preserved", cerr.Message)
	}
}

func TestClient_Token_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "  "})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Token(context.Background(), live.TokenRequest{Character: "nova"})
	if err == nil {
		t.Fatal("expected error for blank token")
	}
}

func TestClient_Token_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/token")
	_, err := c.Token(context.Background(), live.TokenRequest{Character: "nova"})
	if err == nil {
		t.Fatal("expected error")
	}
	if core.TypeOf(err) != core.ErrCredentialFetch {
		t.Errorf("error type = %v, want credential_fetch_failed", core.TypeOf(err))
	}
}

func TestClient_Token_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway timeout</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Token(context.Background(), live.TokenRequest{Character: "nova"})
	if err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}
