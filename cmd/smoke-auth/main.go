// smoke-auth drives the full two-phase login against a running server: admin
// login, exchange, an authenticated admin call, and a replayed exchange that
// must fail. Exits non-zero on the first broken step.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func main() {
	baseURL := os.Getenv("KRAPI_SMOKE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	username := os.Getenv("KRAPI_SMOKE_USERNAME")
	password := os.Getenv("KRAPI_SMOKE_PASSWORD")
	if username == "" || password == "" {
		log.Fatal("KRAPI_SMOKE_USERNAME and KRAPI_SMOKE_PASSWORD are required")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	// Phase one: credentials to session token.
	loginBody, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := client.Post(baseURL+"/auth/admin/session", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	var session struct {
		SessionToken string `json:"sessionToken"`
	}
	decodeData(resp, http.StatusCreated, &session)
	if session.SessionToken == "" {
		log.Fatal("login returned empty session token")
	}

	// Phase two: exchange for the bearer token.
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/auth/session/exchange", nil)
	req.Header.Set("X-Session-Token", session.SessionToken)
	resp, err = client.Do(req)
	if err != nil {
		log.Fatalf("exchange: %v", err)
	}
	var bearer struct {
		JWT string `json:"jwt"`
	}
	decodeData(resp, http.StatusOK, &bearer)
	if bearer.JWT == "" {
		log.Fatal("exchange returned empty bearer token")
	}

	// The bearer must open the admin surface.
	req, _ = http.NewRequest(http.MethodGet, baseURL+"/admin/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+bearer.JWT)
	resp, err = client.Do(req)
	if err != nil {
		log.Fatalf("list sessions: %v", err)
	}
	var listing struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	decodeData(resp, http.StatusOK, &listing)

	// A replayed session token must be rejected.
	req, _ = http.NewRequest(http.MethodPost, baseURL+"/auth/session/exchange", nil)
	req.Header.Set("X-Session-Token", session.SessionToken)
	resp, err = client.Do(req)
	if err != nil {
		log.Fatalf("replay exchange: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		log.Fatalf("replayed session token accepted: status %d", resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Fatalf("decode replay response: %v", err)
	}
	if env.Error != "session_invalid" {
		log.Fatalf("replay error code %q, want session_invalid", env.Error)
	}

	fmt.Println("✅ auth smoke test passed: login, exchange, admin call, replay rejected")
}

func decodeData(resp *http.Response, wantStatus int, dst any) {
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s: status %d, want %d", resp.Request.URL.Path, resp.StatusCode, wantStatus)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Fatalf("%s: decode: %v", resp.Request.URL.Path, err)
	}
	if !env.Success {
		log.Fatalf("%s: error envelope %q", resp.Request.URL.Path, env.Error)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		log.Fatalf("%s: decode data: %v", resp.Request.URL.Path, err)
	}
}
