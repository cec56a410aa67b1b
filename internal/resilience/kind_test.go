package resilience_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/memsync/internal/resilience"
)

func TestSeverityOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind resilience.Kind
		want resilience.Severity
	}{
		{resilience.KindValidation, resilience.SeverityCritical},
		{resilience.KindPermission, resilience.SeverityCritical},
		{resilience.KindSecurity, resilience.SeverityCritical},
		{resilience.KindInternal, resilience.SeverityCritical},
		{resilience.KindNotFound, resilience.SeverityHigh},
		{resilience.KindIntegrity, resilience.SeverityHigh},
		{resilience.KindConnection, resilience.SeverityMedium},
		{resilience.KindTimeout, resilience.SeverityMedium},
		{resilience.KindCircuitOpen, resilience.SeverityMedium},
		{resilience.KindUnknown, resilience.SeverityLow},
	}
	for _, tt := range tests {
		if got := resilience.SeverityOf(tt.kind); got != tt.want {
			t.Errorf("SeverityOf(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net failure" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tagged := resilience.Tag(resilience.KindIntegrity, errors.New("dangling"))
	tests := []struct {
		name string
		err  error
		want resilience.Kind
	}{
		{"nil", nil, ""},
		{"tagged", tagged, resilience.KindIntegrity},
		{"wrapped tag", fmt.Errorf("vector: insert: %w", tagged), resilience.KindIntegrity},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), resilience.KindTimeout},
		{"net timeout", timeoutErr{timeout: true}, resilience.KindTimeout},
		{"net refused", timeoutErr{}, resilience.KindConnection},
		{"plain", errors.New("boom"), resilience.KindUnknown},
		{"retagged", resilience.Tag(resilience.KindValidation, tagged), resilience.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := resilience.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTag_NilStaysNil(t *testing.T) {
	t.Parallel()

	if err := resilience.Tag(resilience.KindTimeout, nil); err != nil {
		t.Errorf("Tag(nil) = %v, want nil", err)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	if k, err := resilience.ParseKind("not_found"); err != nil || k != resilience.KindNotFound {
		t.Errorf("ParseKind(not_found) = %q, %v", k, err)
	}
	if _, err := resilience.ParseKind("flaky"); err == nil {
		t.Error("ParseKind(flaky) should fail")
	}
}

func TestErrorDetail_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := resilience.NewErrorDetail(resilience.Tagf(resilience.KindValidation, "bad input"), time.Unix(0, 0).UTC(), nil)
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"severity":"CRITICAL"`) {
		t.Errorf("severity should be a label: %s", raw)
	}

	var out resilience.ErrorDetail
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Severity != resilience.SeverityCritical || out.Kind != resilience.KindValidation {
		t.Errorf("decoded = %+v", out)
	}

	var s resilience.Severity
	if err := s.UnmarshalText([]byte("SEVERE")); err == nil {
		t.Error("unknown label should fail")
	}
}
