package hubspot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(server *httptest.Server) *HTTPClient {
	return NewHTTPClient(ClientOptions{
		TrackBaseURL:   server.URL,
		ContactBaseURL: server.URL,
		HTTPClient:     server.Client(),
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
	})
}

func TestSendEventUsesQueryParameters(t *testing.T) {
	var capturedQuery url.Values
	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	params := url.Values{}
	params.Set("_a", "62515")
	params.Set("email", "jd@example.com")
	params.Set("_n", "Signed Up")
	if err := testClient(server).SendEvent(context.Background(), params); err != nil {
		t.Fatalf("send event failed: %v", err)
	}
	if capturedPath != "/event" {
		t.Fatalf("expected /event path, got %s", capturedPath)
	}
	if capturedQuery.Get("_a") != "62515" || capturedQuery.Get("_n") != "Signed Up" {
		t.Fatalf("unexpected query: %v", capturedQuery)
	}
}

func TestListPropertiesFiltersReadOnlyDefinitions(t *testing.T) {
	var capturedKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/properties" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		capturedKey = r.URL.Query().Get("hapikey")
		_, _ = w.Write([]byte(`[
			{"name":"email","type":"string","readOnlyValue":false},
			{"name":"closedate","type":"date","readOnlyValue":false},
			{"name":"vid","type":"number","readOnlyValue":true}
		]`))
	}))
	defer server.Close()

	definitions, err := testClient(server).ListProperties(context.Background(), "key_123")
	if err != nil {
		t.Fatalf("list properties failed: %v", err)
	}
	if capturedKey != "key_123" {
		t.Fatalf("expected hapikey query param, got %q", capturedKey)
	}
	if len(definitions) != 2 {
		t.Fatalf("expected read-only definitions to be discarded, got %+v", definitions)
	}
	if definitions[1].Type != TypeDate {
		t.Fatalf("expected date type, got %s", definitions[1].Type)
	}
	for _, definition := range definitions {
		if !definition.Mutable {
			t.Fatalf("expected retained definitions to be mutable: %+v", definition)
		}
	}
}

func TestGetContactByEmailTreats404AsAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	contact, err := testClient(server).GetContactByEmail(context.Background(), "key", "jd@example.com")
	if err != nil {
		t.Fatalf("expected 404 to be absent, not an error: %v", err)
	}
	if contact != nil {
		t.Fatalf("expected nil contact, got %+v", contact)
	}
}

func TestGetContactByEmailParsesContact(t *testing.T) {
	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		_, _ = w.Write([]byte(`{"vid":3234574,"properties":{"lifecyclestage":{"value":"opportunity"}}}`))
	}))
	defer server.Close()

	contact, err := testClient(server).GetContactByEmail(context.Background(), "key", "jd@example.com")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if capturedPath != "/contact/email/jd@example.com/profile" {
		t.Fatalf("unexpected lookup path %s", capturedPath)
	}
	if contact.Vid != 3234574 {
		t.Fatalf("expected vid, got %d", contact.Vid)
	}
	if contact.property(LifecycleStageProperty) != "opportunity" {
		t.Fatalf("expected lifecycle stage, got %q", contact.property(LifecycleStageProperty))
	}
}

func TestCreateContactSendsPropertiesBody(t *testing.T) {
	var capturedBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contact" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&capturedBody)
		_, _ = w.Write([]byte(`{"vid":77}`))
	}))
	defer server.Close()

	vid, err := testClient(server).CreateContact(context.Background(), "key", []Property{{Property: "email", Value: "jd@example.com"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if vid != 77 {
		t.Fatalf("expected created vid 77, got %d", vid)
	}
	properties, ok := capturedBody["properties"].([]any)
	if !ok || len(properties) != 1 {
		t.Fatalf("expected properties body, got %+v", capturedBody)
	}
}

func TestCreateContactReturnsConflictWithVid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"{\"property\":{\"vid\":3234574}}"}`))
	}))
	defer server.Close()

	_, err := testClient(server).CreateContact(context.Background(), "key", nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Vid != 3234574 {
		t.Fatalf("expected conflict vid 3234574, got %v", err)
	}
}

func TestCreateContactMalformedConflictBodyIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"not json"}`))
	}))
	defer server.Close()

	_, err := testClient(server).CreateContact(context.Background(), "key", nil)
	if err == nil || errors.Is(err, ErrConflict) {
		t.Fatalf("expected fatal parse error for malformed conflict body, got %v", err)
	}
	if !strings.Contains(err.Error(), "conflict body") {
		t.Fatalf("expected parse context in error, got %v", err)
	}
}

func TestUpdateContactTargetsVidProfile(t *testing.T) {
	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := testClient(server).UpdateContact(context.Background(), "key", 42, nil); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if capturedPath != "/contact/vid/42/profile" {
		t.Fatalf("unexpected update path %s", capturedPath)
	}
}

func TestUpsertContactTargetsEmail(t *testing.T) {
	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := testClient(server).UpsertContact(context.Background(), "key", "jd@example.com", nil); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if capturedPath != "/contact/createOrUpdate/email/jd@example.com" {
		t.Fatalf("unexpected upsert path %s", capturedPath)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := testClient(server).UpdateContact(context.Background(), "key", 42, nil); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestClientSurfacesPermanentFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"invalid property"}`))
	}))
	defer server.Close()

	err := testClient(server).UpdateContact(context.Background(), "key", 42, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest || httpErr.Message != "invalid property" {
		t.Fatalf("unexpected error payload: %+v", httpErr)
	}
}
