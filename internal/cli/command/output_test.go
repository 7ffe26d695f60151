package command

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-tokens/pkg/domain"
)

func TestNewTokenView_Data(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantKey string
		wantLog bool
	}{
		{"empty", nil, "", false},
		{"mapping", []byte("plan: pro\n"), "plan", false},
		{"sequence", []byte("- a\n- b\n"), "", true},
		{"not yaml", []byte("plan: [unclosed"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

			token := &domain.Token{
				ID:        uuid.New(),
				Name:      "activation",
				Value:     "abc",
				OwnerType: "user",
				OwnerID:   "1",
				Data:      tt.data,
			}
			v := newTokenView(token, time.Now(), logger)

			if tt.wantKey == "" && v.Data != nil {
				t.Errorf("Data = %v, want nil", v.Data)
			}
			if tt.wantKey != "" {
				if _, ok := v.Data[tt.wantKey]; !ok {
					t.Errorf("Data = %v, want key %q", v.Data, tt.wantKey)
				}
			}

			logged := strings.Contains(logs.String(), "token data is not a YAML mapping")
			if logged != tt.wantLog {
				t.Errorf("decode failure logged = %v, want %v (logs: %s)", logged, tt.wantLog, logs.String())
			}
		})
	}
}
