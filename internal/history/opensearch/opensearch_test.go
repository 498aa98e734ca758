package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xpol/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL, receivedMethod, contentType, user, pass string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		user, pass, _ = r.BasicAuth()
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(Options{BaseURL: server.URL + "/", Username: "ops", Password: "pw"})
	event := history.Event{
		Type:       history.EventUpload,
		OccurredAt: time.Now().UTC(),
		Name:       "brain",
		PID:        12345,
		Bytes:      32,
	}
	require.NoError(t, sink.Send(context.Background(), event))

	assert.Equal(t, http.MethodPost, receivedMethod)
	assert.Equal(t, "/xpol-history/_doc", receivedURL)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "ops", user)
	assert.Equal(t, "pw", pass)

	var got map[string]any
	require.NoError(t, json.Unmarshal(receivedBody, &got))
	assert.Equal(t, "upload", got["type"])
	assert.Equal(t, "brain", got["name"])
	assert.EqualValues(t, 32, got["bytes"])
	_, hasErr := got["error"]
	assert.False(t, hasErr)
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer server.Close()

	err := New(Options{BaseURL: server.URL, Index: "idx"}).Send(context.Background(), history.Event{Type: history.EventWorkerExit})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	u := server.URL
	server.Close()

	err := New(Options{BaseURL: u, Index: "idx", Timeout: time.Second}).Send(context.Background(), history.Event{Type: history.EventWorkerExit})
	assert.Error(t, err)
}
