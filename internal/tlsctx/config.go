package tlsctx

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/ooni/tlssock/model"
	"gopkg.in/yaml.v3"
)

// Config contains the settings used to build a Context. The fields
// with a yaml tag can be loaded from file using LoadConfig; the other
// ones are only available to code.
type Config struct {
	// Role is either "client" or "server".
	Role Role `yaml:"role"`

	// CertFile and KeyFile are the PEM encoded certificate chain and
	// private key. Mandatory for servers unless Certificates is set.
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`

	// CABundle is the PEM file used to verify the peer. When empty
	// we use the system roots.
	CABundle string `yaml:"caBundle"`

	// SelfSigned indicates that our certificates are not anchored
	// in a recognized certificate authority.
	SelfSigned bool `yaml:"selfSigned"`

	// ServerName is the SNI and the name verified in the server
	// certificate. Only used by clients.
	ServerName string `yaml:"serverName"`

	NextProtos []string `yaml:"nextProtos"`

	// MinVersion and MaxVersion are "TLSv1", "TLSv1.1", "TLSv1.2"
	// or "TLSv1.3". Empty means the library default.
	MinVersion string `yaml:"minVersion"`
	MaxVersion string `yaml:"maxVersion"`

	// HandshakeTimeout bounds Connect and Accept. Zero means no limit.
	HandshakeTimeout time.Duration `yaml:"-"`

	Beginning    time.Time         `yaml:"-"`
	Certificates []tls.Certificate `yaml:"-"`
	Handler      model.Handler     `yaml:"-"`
	RootCAs      *x509.CertPool    `yaml:"-"`
}

// configYAML is the YAML representation that maps to Config.
type configYAML struct {
	Config           `yaml:",inline"`
	HandshakeTimeout string `yaml:"handshakeTimeout"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration.
func ParseConfig(data []byte) (Config, error) {
	var raw configYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("tlsctx: parse config: %w", err)
	}
	config := raw.Config
	if raw.HandshakeTimeout != "" {
		d, err := time.ParseDuration(raw.HandshakeTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("tlsctx: invalid handshakeTimeout: %w", err)
		}
		config.HandshakeTimeout = d
	}
	return config, nil
}

var tlsVersions = map[string]uint16{
	"TLSv1":   tls.VersionTLS10,
	"TLSv1.1": tls.VersionTLS11,
	"TLSv1.2": tls.VersionTLS12,
	"TLSv1.3": tls.VersionTLS13,
}

func parseVersion(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	v, ok := tlsVersions[s]
	if !ok {
		return 0, fmt.Errorf("tlsctx: unknown TLS version: %q", s)
	}
	return v, nil
}
