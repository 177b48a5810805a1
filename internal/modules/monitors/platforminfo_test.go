package monitors

import (
	"testing"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/connectors"
)

func TestPlatformInfoConnectorSpecDefaultsToSSH(t *testing.T) {
	mon, err := NewPlatformInfo(domain.ModuleSpecification{ID: PlatformInfoID}, nil)
	if err != nil {
		t.Fatalf("NewPlatformInfo: %v", err)
	}
	spec, ok := mon.ConnectorSpec()
	if !ok {
		t.Fatal("expected platform-info to require a connector")
	}
	if spec.ID != connectors.SSHSpecID {
		t.Errorf("expected default connector %q, got %q", connectors.SSHSpecID, spec.ID)
	}
}

func TestPlatformInfoConnectorSpecFollowsHostSetting(t *testing.T) {
	for _, connectorID := range []string{connectors.WinRMSpecID, connectors.LocalSpecID, connectors.SSHSpecID} {
		mon, err := NewPlatformInfo(domain.ModuleSpecification{ID: PlatformInfoID}, map[string]string{"connector": connectorID})
		if err != nil {
			t.Fatalf("NewPlatformInfo: %v", err)
		}
		spec, ok := mon.ConnectorSpec()
		if !ok {
			t.Fatal("expected platform-info to require a connector")
		}
		if spec.ID != connectorID {
			t.Errorf("expected connector %q, got %q", connectorID, spec.ID)
		}
	}
}

func TestPlatformInfoProcessResponse(t *testing.T) {
	mon, err := NewPlatformInfo(domain.ModuleSpecification{ID: PlatformInfoID}, nil)
	if err != nil {
		t.Fatalf("NewPlatformInfo: %v", err)
	}

	cases := []struct {
		message string
		wantOS  string
	}{
		{"Linux\n", "linux"},
		{"Darwin", "darwin"},
		{"Microsoft Windows 10", "windows"},
		{"SunOS", "unknown"},
	}
	for _, tc := range cases {
		dp, err := mon.ProcessResponse(domain.Host{Name: "web1"}, domain.ResponseMessage{Message: tc.message}, nil)
		if err != nil {
			t.Fatalf("ProcessResponse(%q): %v", tc.message, err)
		}
		if dp.Value != tc.wantOS {
			t.Errorf("ProcessResponse(%q): got value %q, want %q", tc.message, dp.Value, tc.wantOS)
		}
		if dp.Criticality != domain.Normal {
			t.Errorf("ProcessResponse(%q): got criticality %v, want Normal", tc.message, dp.Criticality)
		}
	}
}

func TestPlatformInfoProcessResponsesAlwaysFallsBack(t *testing.T) {
	mon, err := NewPlatformInfo(domain.ModuleSpecification{ID: PlatformInfoID}, nil)
	if err != nil {
		t.Fatalf("NewPlatformInfo: %v", err)
	}
	_, err = mon.ProcessResponses(domain.Host{}, []domain.ResponseMessage{{Message: "linux"}}, nil)
	if !module.IsFallback(err) {
		t.Errorf("expected the fallback sentinel, got %v", err)
	}
}
