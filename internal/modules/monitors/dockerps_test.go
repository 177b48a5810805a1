package monitors

import (
	"testing"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
)

// TestDockerPSProcessResponsesBaseToExtensionChaining exercises the base
// (platform-info) to extension (docker-ps) chaining scenario: platform-info
// reports "linux" and docker-ps parses the resulting container listing into
// one Normal DataPoint carrying a container per Multivalue entry.
func TestDockerPSProcessResponsesBaseToExtensionChaining(t *testing.T) {
	mon, err := NewDockerPS(domain.ModuleSpecification{ID: DockerPSID}, nil)
	if err != nil {
		t.Fatalf("NewDockerPS: %v", err)
	}

	parent := &domain.DataPoint{Label: "platform", Value: "linux", Criticality: domain.Normal}
	messages, err := mon.ConnectorMessages(domain.Host{Name: "web1"}, parent)
	if err != nil {
		t.Fatalf("ConnectorMessages: %v", err)
	}
	if len(messages) != 1 || messages[0] != "docker ps --format '{{.Names}}|{{.Status}}'" {
		t.Fatalf("unexpected connector messages for a linux parent: %+v", messages)
	}

	responses := []domain.ResponseMessage{{
		Message: "container1|Up 2 hours\ncontainer2|Exited (1) 5 minutes ago\n",
	}}
	dp, err := mon.ProcessResponses(domain.Host{Name: "web1"}, responses, parent)
	if err != nil {
		t.Fatalf("ProcessResponses: %v", err)
	}

	if dp.Criticality != domain.Normal {
		t.Errorf("expected overall criticality Normal, got %v", dp.Criticality)
	}
	if len(dp.Multivalue) != 2 {
		t.Fatalf("expected 2 containers, got %d: %+v", len(dp.Multivalue), dp.Multivalue)
	}
	if dp.Multivalue[0].Label != "container1" || dp.Multivalue[0].Value != "Up 2 hours" || dp.Multivalue[0].Criticality != domain.Normal {
		t.Errorf("unexpected first container: %+v", dp.Multivalue[0])
	}
	if dp.Multivalue[1].Label != "container2" || dp.Multivalue[1].Criticality != domain.Warning {
		t.Errorf("unexpected second container: %+v", dp.Multivalue[1])
	}
}

func TestDockerPSConnectorMessagesSkipsWindowsParent(t *testing.T) {
	mon, err := NewDockerPS(domain.ModuleSpecification{ID: DockerPSID}, nil)
	if err != nil {
		t.Fatalf("NewDockerPS: %v", err)
	}

	parent := &domain.DataPoint{Value: "windows"}
	messages, err := mon.ConnectorMessages(domain.Host{Name: "win1"}, parent)
	if err != nil {
		t.Fatalf("ConnectorMessages: %v", err)
	}
	if len(messages) != 1 || messages[0] != "true" {
		t.Fatalf("expected a no-op probe for a windows parent, got %+v", messages)
	}

	dp, err := mon.ProcessResponse(domain.Host{Name: "win1"}, domain.ResponseMessage{}, parent)
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if dp.Value != "windows" {
		t.Errorf("expected the parent data point to pass through unchanged, got %+v", dp)
	}
}

func TestDockerPSProcessResponsesNoResponsesFallsBack(t *testing.T) {
	mon, err := NewDockerPS(domain.ModuleSpecification{ID: DockerPSID}, nil)
	if err != nil {
		t.Fatalf("NewDockerPS: %v", err)
	}
	_, err = mon.ProcessResponses(domain.Host{}, nil, nil)
	if !module.IsFallback(err) {
		t.Fatalf("expected the fallback sentinel when no responses were collected, got %v", err)
	}
}
