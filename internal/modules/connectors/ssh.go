// Package connectors holds the Connector module implementations: SSH, local
// shell, Unix-socket HTTP, WinRM and SNMP. Each is a thin adapter between the
// module.Connector contract and an existing transport library.
package connectors

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nmslite/nmslite/internal/domain"
	"github.com/nmslite/nmslite/internal/module"
	"github.com/nmslite/nmslite/internal/modules/settings"
)

const SSHSpecID = "ssh"

// SSH is the principal remote-execution connector, authenticating with
// either a password or a private key.
type SSH struct {
	meta    module.Metadata
	timeout time.Duration
	port    int

	client *ssh.Client
}

func NewSSH(spec domain.ModuleSpecification, set map[string]string) (module.Connector, error) {
	timeout := settings.Duration(set, "timeout_seconds", 10*time.Second)
	port := settings.Int(set, "port", 22)
	return &SSH{
		meta:    module.Metadata{Spec: spec},
		timeout: timeout,
		port:    port,
	}, nil
}

func (s *SSH) Metadata() module.Metadata                 { return s.meta }
func (s *SSH) ModuleSpec() domain.ModuleSpecification     { return s.meta.Spec }

func (s *SSH) Connect(host domain.Host, credentials map[string]string) error {
	username := credentials["username"]
	password := credentials["password"]
	privateKey := credentials["private_key"]
	passphrase := credentials["passphrase"]

	var auths []ssh.AuthMethod
	if privateKey != "" {
		signer, err := parseSigner(privateKey, passphrase)
		if err != nil {
			return fmt.Errorf("ssh: parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if password != "" {
		auths = append(auths, ssh.Password(password))
	}
	if len(auths) == 0 {
		return fmt.Errorf("ssh: no usable credentials (need password or private_key)")
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // fleet hosts have no pinned host keys in this design
		Timeout:         s.timeout,
	}

	addr := net.JoinHostPort(host.Address, strconv.Itoa(s.port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("ssh: dial %s: %w", addr, err)
	}

	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = client
	return nil
}

func (s *SSH) Send(requestType domain.RequestType, message string) (domain.ResponseMessage, error) {
	if s.client == nil {
		return domain.ResponseMessage{}, fmt.Errorf("ssh: not connected")
	}
	if requestType != domain.Command {
		return domain.ResponseMessage{}, fmt.Errorf("ssh: unsupported request type for this connector")
	}

	session, err := s.client.NewSession()
	if err != nil {
		return domain.ResponseMessage{}, fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	returnCode := 0
	if err := session.Run(message); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			returnCode = exitErr.ExitStatus()
		} else {
			return domain.ResponseMessage{}, fmt.Errorf("ssh: run %q: %w", message, err)
		}
	}

	out := stdout.String()
	if out == "" {
		out = stderr.String()
	}
	return domain.ResponseMessage{Message: out, ReturnCode: returnCode}, nil
}

func (s *SSH) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func parseSigner(privateKey, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase([]byte(privateKey), []byte(passphrase))
	}
	return ssh.ParsePrivateKey([]byte(privateKey))
}
