package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

var adminInfo = &grpc.UnaryServerInfo{FullMethod: "/chatd.v1.Admin/Reconcile"}

func TestAuthInterceptor(t *testing.T) {
	for _, tc := range []struct {
		name  string
		token string
		info  *grpc.UnaryServerInfo
		md    metadata.MD
		code  codes.Code
	}{
		{"disabled", "", adminInfo, nil, codes.OK},
		{"health exempt", "secret", &grpc.UnaryServerInfo{FullMethod: healthCheckMethod}, nil, codes.OK},
		{"missing metadata", "secret", adminInfo, nil, codes.Unauthenticated},
		{"missing header", "secret", adminInfo, metadata.Pairs("other", "value"), codes.Unauthenticated},
		{"invalid scheme", "secret", adminInfo, metadata.Pairs("authorization", "Basic secret"), codes.Unauthenticated},
		{"wrong token", "secret", adminInfo, metadata.Pairs("authorization", "Bearer nope"), codes.Unauthenticated},
		{"correct token", "secret", adminInfo, metadata.Pairs("authorization", "Bearer secret"), codes.OK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tc.md)
			}
			resp, err := AuthInterceptor(tc.token)(ctx, nil, tc.info, stubHandler)
			if got := status.Code(err); got != tc.code {
				t.Fatalf("code = %v, want %v (err %v)", got, tc.code, err)
			}
			if tc.code == codes.OK && resp != "ok" {
				t.Fatalf("expected 'ok', got %v", resp)
			}
		})
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	panicky := func(context.Context, any) (any, error) { panic("boom") }
	_, err := RecoveryInterceptor(context.Background(), nil, adminInfo, panicky)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, tc := range []struct {
		name   string
		token  string
		method string
		path   string
		header string
		want   int
	}{
		{"disabled", "", "POST", "/v1/events", "", http.StatusOK},
		{"health exempt", "secret", "GET", "/v1/health", "", http.StatusOK},
		{"no header", "secret", "POST", "/v1/events", "", http.StatusUnauthorized},
		{"wrong scheme", "secret", "POST", "/v1/events", "Token secret", http.StatusUnauthorized},
		{"wrong token", "secret", "POST", "/v1/events", "Bearer nope", http.StatusUnauthorized},
		{"correct token", "secret", "POST", "/v1/events", "Bearer secret", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tc.token, ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := CORSMiddleware([]string{"http://localhost:3000"}, AuthMiddleware("secret", next))

	for _, tc := range []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{"allowed origin", "http://localhost:3000", "http://localhost:3000"},
		{"other origin", "http://evil.example", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/v1/updates/stream", nil)
			req.Header.Set("Origin", tc.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			req.Header.Set("Access-Control-Request-Headers", "Authorization")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code == http.StatusUnauthorized {
				t.Fatal("preflight reached auth")
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tc.wantOrigin)
			}
		})
	}

	if got := CORSMiddleware(nil, next); got == nil {
		t.Fatal("nil handler without origins")
	}
}
