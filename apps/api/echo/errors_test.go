package echoapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo/core"
)

type levelLogger struct {
	core.Logger
	mu     sync.Mutex
	levels []string
}

func (l *levelLogger) record(level string) {
	l.mu.Lock()
	l.levels = append(l.levels, level)
	l.mu.Unlock()
}

func (l *levelLogger) Warn(string, ...interface{})  { l.record("warn") }
func (l *levelLogger) Error(string, ...interface{}) { l.record("error") }

func TestAppHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantLevels []string
	}{
		{
			name:     "cancelled by client",
			err:      core.E("tenant.Resolve", core.KindCancelled, context.Canceled),
			wantCode: statusClientClosedRequest,
		},
		{
			name:     "invalid argument",
			err:      core.Errorf("tenant.Normalize", core.KindInvalidArgument, "invalid tenant key"),
			wantCode: http.StatusBadRequest,
		},
		{
			name:       "timeout",
			err:        core.E("tenant.open", core.KindConnection, context.DeadlineExceeded),
			wantCode:   http.StatusGatewayTimeout,
			wantLevels: []string{"warn"},
		},
		{
			name:       "connection",
			err:        core.Errorf("tenant.open", core.KindConnection, "refused"),
			wantCode:   http.StatusServiceUnavailable,
			wantLevels: []string{"warn"},
		},
		{
			name:       "storage",
			err:        core.E("sequence.NextIdentifier", core.KindStorage, errors.New("disk full")),
			wantCode:   http.StatusInternalServerError,
			wantLevels: []string{"error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &levelLogger{Logger: core.NopLogger}
			e := echo.New()
			handler := newAppHTTPErrorHandler(logger, func() {})

			rec := httptest.NewRecorder()
			ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			handler(tt.err, ctx)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLevels, logger.levels)
		})
	}
}
