package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func respond(code int) (*http.Response, error) {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     make(http.Header),
	}, nil
}

func TestHTTPTransport_Upload(t *testing.T) {
	var gotMethod, gotURL, gotType, gotUser, gotPass string
	var gotBody []byte
	var hasAuth bool
	client := &http.Client{
		Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			gotMethod = r.Method
			gotURL = r.URL.String()
			gotType = r.Header.Get("Content-Type")
			gotUser, gotPass, hasAuth = r.BasicAuth()
			gotBody, _ = io.ReadAll(r.Body)
			return respond(http.StatusOK)
		}),
	}

	tr, err := NewHTTPTransport("collector:8080", WithHTTPClient(client), WithWriteKey("wk_123"))
	if err != nil {
		t.Fatal(err)
	}
	body := []byte(`{"batch":[{"a":1}],"sentAt":"x"}`)
	if err := tr.Upload(context.Background(), body); err != nil {
		t.Fatal(err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotURL != "http://collector:8080/v1/import" {
		t.Errorf("url = %s", gotURL)
	}
	if gotType != "application/json" {
		t.Errorf("content-type = %s", gotType)
	}
	if !hasAuth || gotUser != "wk_123" || gotPass != "" {
		t.Errorf("basic auth = %q/%q (%v)", gotUser, gotPass, hasAuth)
	}
	if !bytes.Equal(gotBody, body) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestHTTPTransport_NoWriteKeyNoAuth(t *testing.T) {
	client := &http.Client{
		Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if _, _, ok := r.BasicAuth(); ok {
				t.Error("unexpected basic auth header")
			}
			return respond(http.StatusAccepted)
		}),
	}
	tr, _ := NewHTTPTransport("https://api.example.com/batch", WithHTTPClient(client))
	if err := tr.Upload(context.Background(), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPTransport_NonSuccessStatus(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusBadGateway} {
		calls := 0
		client := &http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				calls++
				return respond(code)
			}),
		}
		tr, _ := NewHTTPTransport("collector:8080", WithHTTPClient(client))
		err := tr.Upload(context.Background(), []byte(`{}`))
		var se *StatusError
		if !errors.As(err, &se) || se.Code != code {
			t.Errorf("HTTP %d: err = %v", code, err)
		}
		if calls != 1 {
			t.Errorf("HTTP %d: calls = %d, transport must not retry", code, calls)
		}
	}
}

func TestHTTPTransport_NetworkError(t *testing.T) {
	client := &http.Client{
		Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	}
	tr, _ := NewHTTPTransport("collector:8080", WithHTTPClient(client))
	err := tr.Upload(context.Background(), []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPTransport_Compression(t *testing.T) {
	body := []byte(strings.Repeat(`{"event":"page"},`, 50))
	tests := []struct {
		c      Compression
		decode func([]byte) ([]byte, error)
	}{
		{CompressionGzip, func(b []byte) ([]byte, error) {
			zr, err := gzip.NewReader(bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			return io.ReadAll(zr)
		}},
		{CompressionZstd, func(b []byte) ([]byte, error) {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer dec.Close()
			return dec.DecodeAll(b, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.c), func(t *testing.T) {
			var encoding string
			var raw []byte
			client := &http.Client{
				Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
					encoding = r.Header.Get("Content-Encoding")
					raw, _ = io.ReadAll(r.Body)
					return respond(http.StatusOK)
				}),
			}
			tr, _ := NewHTTPTransport("collector:8080", WithHTTPClient(client), WithCompression(tt.c))
			if err := tr.Upload(context.Background(), body); err != nil {
				t.Fatal(err)
			}
			if encoding != string(tt.c) {
				t.Errorf("Content-Encoding = %q, want %q", encoding, tt.c)
			}
			got, err := tt.decode(raw)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, body) {
				t.Error("decoded body differs from original")
			}
		})
	}
}

func TestHTTPTransport_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ingest" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL+"/ingest", WithTimeout(time.Second), WithDialCheck(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Connected() {
		t.Fatal("Connected() = false for a live server")
	}
	if err := tr.Upload(context.Background(), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPTransport_DialCheckFailure(t *testing.T) {
	tr, _ := NewHTTPTransport("collector.invalid:9", WithDialCheck(time.Second))
	var dialed string
	tr.dial = func(_ context.Context, _, addr string) (net.Conn, error) {
		dialed = addr
		return nil, errors.New("no route to host")
	}
	if tr.Connected() {
		t.Fatal("Connected() = true with failing dial")
	}
	if dialed != "collector.invalid:9" {
		t.Errorf("dialed %q", dialed)
	}

	noCheck, _ := NewHTTPTransport("collector.invalid:9")
	if !noCheck.Connected() {
		t.Error("Connected() without dial check should be true")
	}
}

func TestBuildImportURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"collector:8080", "http://collector:8080/v1/import", false},
		{"http://collector:8080/", "http://collector:8080/v1/import", false},
		{"https://api.example.com", "https://api.example.com/v1/import", false},
		{"https://api.example.com/v1/batch", "https://api.example.com/v1/batch", false},
		{"  ", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		got, err := buildImportURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("buildImportURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("buildImportURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("buildImportURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "GZIP": CompressionGzip, " zstd ": CompressionZstd} {
		got, err := ParseCompression(in)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("expected error for brotli")
	}
}
