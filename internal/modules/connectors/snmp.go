package connectors

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/settings"
)

const (
	SNMPv2cSpecID = "snmp-v2c"
	SNMPv3SpecID  = "snmp-v3"
)

// SNMP polls a device via SNMP v2c or v3. A message is a dot-separated OID
// for a Get, or "walk:<oid>" for a BulkWalk.
type SNMP struct {
	meta    module.Metadata
	version gosnmp.SnmpVersion
	port    int
	timeout time.Duration

	conn *gosnmp.GoSNMP
}

func NewSNMPv2c(spec domain.ModuleSpecification, set map[string]string) (module.Connector, error) {
	return newSNMP(spec, set, gosnmp.Version2c)
}

func NewSNMPv3(spec domain.ModuleSpecification, set map[string]string) (module.Connector, error) {
	return newSNMP(spec, set, gosnmp.Version3)
}

func newSNMP(spec domain.ModuleSpecification, set map[string]string, version gosnmp.SnmpVersion) (module.Connector, error) {
	return &SNMP{
		meta:    module.Metadata{Spec: spec},
		version: version,
		port:    settings.Int(set, "port", 161),
		timeout: settings.Duration(set, "timeout_seconds", 5*time.Second),
	}, nil
}

func (s *SNMP) Metadata() module.Metadata             { return s.meta }
func (s *SNMP) ModuleSpec() domain.ModuleSpecification { return s.meta.Spec }

func (s *SNMP) Connect(host domain.Host, credentials map[string]string) error {
	conn := &gosnmp.GoSNMP{
		Target:    host.Address,
		Port:      uint16(s.port),
		Version:   s.version,
		Timeout:   s.timeout,
		Retries:   1,
	}

	switch s.version {
	case gosnmp.Version2c:
		conn.Community = credentials["community"]
	case gosnmp.Version3:
		conn.SecurityModel = gosnmp.UserSecurityModel
		conn.MsgFlags = securityLevel(credentials["security_level"])
		conn.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 credentials["security_name"],
			AuthenticationProtocol:   authProtocol(credentials["auth_protocol"]),
			AuthenticationPassphrase: credentials["auth_password"],
			PrivacyProtocol:          privProtocol(credentials["priv_protocol"]),
			PrivacyPassphrase:        credentials["priv_password"],
		}
	}

	if err := conn.Connect(); err != nil {
		return fmt.Errorf("snmp: connect %s:%d: %w", host.Address, s.port, err)
	}
	s.conn = conn
	return nil
}

func (s *SNMP) Send(requestType domain.RequestType, message string) (domain.ResponseMessage, error) {
	if s.conn == nil {
		return domain.ResponseMessage{}, fmt.Errorf("snmp: not connected")
	}
	if requestType != domain.Command {
		return domain.ResponseMessage{}, fmt.Errorf("snmp: unsupported request type for this connector")
	}

	if oid, ok := strings.CutPrefix(message, "walk:"); ok {
		var parts []string
		err := s.conn.BulkWalk(oid, func(pdu gosnmp.SnmpPDU) error {
			parts = append(parts, fmt.Sprintf("%s=%v", pdu.Name, pdu.Value))
			return nil
		})
		if err != nil {
			return domain.ResponseMessage{}, fmt.Errorf("snmp: walk %s: %w", oid, err)
		}
		return domain.ResponseMessage{Message: strings.Join(parts, "\n"), ReturnCode: 0}, nil
	}

	result, err := s.conn.Get([]string{message})
	if err != nil {
		return domain.ResponseMessage{}, fmt.Errorf("snmp: get %s: %w", message, err)
	}
	if len(result.Variables) == 0 {
		return domain.ResponseMessage{Message: "", ReturnCode: 1}, nil
	}
	return domain.ResponseMessage{Message: fmt.Sprintf("%v", result.Variables[0].Value), ReturnCode: 0}, nil
}

func (s *SNMP) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Conn.Close()
}

func securityLevel(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "authPriv":
		return gosnmp.AuthPriv
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProtocol(proto string) gosnmp.SnmpV3AuthProtocol {
	switch proto {
	case "SHA":
		return gosnmp.SHA
	case "MD5":
		return gosnmp.MD5
	default:
		return gosnmp.NoAuth
	}
}

func privProtocol(proto string) gosnmp.SnmpV3PrivProtocol {
	switch proto {
	case "AES":
		return gosnmp.AES
	case "DES":
		return gosnmp.DES
	default:
		return gosnmp.NoPriv
	}
}
