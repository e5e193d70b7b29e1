package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/sse"
)

func TestEventsStream_HandsOutSessionID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	hub := sse.NewHub(log)

	router := gin.New()
	router.GET("/api/events/stream", NewEventsHandler(log, hub).Stream)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/events/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		defer close(served)
		router.ServeHTTP(rec, req)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on disconnect")
	}

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"clientId":"`) {
		t.Fatalf("first frame missing session id, body:\n%s", body)
	}
}
