package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/errors"
)

// generateTestCert creates a self-signed certificate
func generateTestCert(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test Org"}, CommonName: cn},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

func writeTestFiles(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t, "channeld")
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile
}

func TestLoadClientConfig_Disabled(t *testing.T) {
	cfg, err := LoadClientConfig(ClientConfig{CAFiles: []string{"/does/not/exist"}})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile := writeTestFiles(t)
	badPEM := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(badPEM, []byte("not a certificate"), 0o644))

	tests := []struct {
		name      string
		cfg       ClientConfig
		wantErr   bool
		wantCerts int
	}{
		{"system roots only", ClientConfig{Enabled: true}, false, 0},
		{"additional CA", ClientConfig{Enabled: true, CAFiles: []string{certFile}}, false, 0},
		{"client certificate", ClientConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}, false, 1},
		{"missing CA file", ClientConfig{Enabled: true, CAFiles: []string{"/does/not/exist.pem"}}, true, 0},
		{"invalid CA PEM", ClientConfig{Enabled: true, CAFiles: []string{badPEM}}, true, 0},
		{"missing key", ClientConfig{Enabled: true, CertFile: certFile}, true, 0},
		{"unreadable key pair", ClientConfig{Enabled: true, CertFile: certFile, KeyFile: badPEM}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadClientConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			assert.NotNil(t, cfg.RootCAs)
			assert.Len(t, cfg.Certificates, tt.wantCerts)
			assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		})
	}
}

func TestLoadClientConfig_Options(t *testing.T) {
	cfg, err := LoadClientConfig(ClientConfig{
		Enabled:            true,
		ServerName:         "nats.internal",
		MinVersion:         "1.3",
		InsecureSkipVerify: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "nats.internal", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ClientConfig{}.Validate())
	assert.NoError(t, ClientConfig{Enabled: true, MinVersion: "1.3"}.Validate())

	err := ClientConfig{Enabled: true, MinVersion: "1.0"}.Validate()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsInvalid(err))

	err = ClientConfig{Enabled: true, KeyFile: "key.pem"}.Validate()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("bogus"))
}
