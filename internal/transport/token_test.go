package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenClient_Fetch(t *testing.T) {
	var gotRoom, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRoom = r.URL.Query().Get("roomName")
		gotName = r.URL.Query().Get("participantName")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"serverUrl":"ws://rooms.local","participantToken":"tok-123"}`))
	}))
	defer srv.Close()

	c := NewTokenClient(srv.URL+"/api/token", time.Second)
	creds, err := c.Fetch(context.Background(), "voice-assistant-room", "dashboard user")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if creds.ServerURL != "ws://rooms.local" || creds.ParticipantToken != "tok-123" {
		t.Errorf("unexpected credentials %+v", creds)
	}
	if gotRoom != "voice-assistant-room" || gotName != "dashboard user" {
		t.Errorf("query = room %q name %q", gotRoom, gotName)
	}
}

func TestTokenClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusInternalServerError, "boom", http.StatusInternalServerError},
		{"forbidden", http.StatusForbidden, "no", http.StatusForbidden},
		{"missing fields", http.StatusOK, `{"serverUrl":""}`, 0},
		{"not json", http.StatusOK, `<html>`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewTokenClient(srv.URL, time.Second).Fetch(context.Background(), "r", "p")
			if err == nil {
				t.Fatal("expected error")
			}

			var tokenErr *TokenError
			isTokenErr := errors.As(err, &tokenErr)
			if tt.wantStatus != 0 {
				if !isTokenErr || tokenErr.StatusCode != tt.wantStatus || tokenErr.Body != tt.body {
					t.Errorf("err = %v, want TokenError %d", err, tt.wantStatus)
				}
			} else if isTokenErr {
				t.Errorf("unexpected TokenError %v", err)
			}
		})
	}
}
