package pki

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestNewCAFromSeed_Deterministic(t *testing.T) {
	ca1, err := NewCAFromSeed("seed-1")
	if err != nil {
		t.Fatalf("NewCAFromSeed: %v", err)
	}
	ca2, err := NewCAFromSeed("seed-1")
	if err != nil {
		t.Fatalf("NewCAFromSeed: %v", err)
	}

	if !bytes.Equal(ca1.CertPEM(), ca2.CertPEM()) {
		t.Error("expected identical CA cert PEM for the same seed")
	}

	block, _ := pem.Decode(ca1.CertPEM())
	if block == nil {
		t.Fatal("failed to decode CA cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if !cert.IsCA {
		t.Error("expected IsCA to be true")
	}
	if cert.Subject.CommonName != "localup-ca" {
		t.Errorf("expected CN=localup-ca, got %s", cert.Subject.CommonName)
	}
}

func TestNewCAFromSeed_DifferentSeeds(t *testing.T) {
	ca1, err := NewCAFromSeed("seed-a")
	if err != nil {
		t.Fatalf("NewCAFromSeed: %v", err)
	}
	ca2, err := NewCAFromSeed("seed-b")
	if err != nil {
		t.Fatalf("NewCAFromSeed: %v", err)
	}

	if bytes.Equal(ca1.CertPEM(), ca2.CertPEM()) {
		t.Error("expected different CA certs for different seeds")
	}
}

func TestSignCSR(t *testing.T) {
	ca, err := NewCAFromSeed("seed-sign")
	if err != nil {
		t.Fatalf("NewCAFromSeed: %v", err)
	}

	key, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	csrPEM, err := GenerateCSR(key, "test-client")
	if err != nil {
		t.Fatalf("GenerateCSR: %v", err)
	}

	certPEM, err := ca.SignCSR(csrPEM)
	if err != nil {
		t.Fatalf("SignCSR: %v", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("failed to decode signed cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if cert.Subject.CommonName != "test-client" {
		t.Errorf("expected CN=test-client, got %s", cert.Subject.CommonName)
	}

	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}); err != nil {
		t.Errorf("certificate verification failed: %v", err)
	}
}

func TestSignCSR_InvalidPEM(t *testing.T) {
	ca, err := NewCAFromSeed("seed-invalid")
	if err != nil {
		t.Fatalf("NewCAFromSeed: %v", err)
	}

	if _, err := ca.SignCSR([]byte("not-a-pem")); err == nil {
		t.Error("expected error for invalid PEM, got nil")
	}
}

func TestGenerateServerCert(t *testing.T) {
	ca, err := NewCAFromSeed("seed-server")
	if err != nil {
		t.Fatalf("NewCAFromSeed: %v", err)
	}

	certPEM, keyPEM, err := ca.GenerateServerCert("127.0.0.1", "relay.localup.test")
	if err != nil {
		t.Fatalf("GenerateServerCert: %v", err)
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		t.Fatal("expected non-empty cert/key PEM")
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("failed to decode server cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}

	if len(cert.IPAddresses) != 1 || cert.IPAddresses[0].String() != "127.0.0.1" {
		t.Errorf("expected IP SAN 127.0.0.1, got %v", cert.IPAddresses)
	}
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "relay.localup.test" {
		t.Errorf("expected DNS SAN relay.localup.test, got %v", cert.DNSNames)
	}

	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}); err != nil {
		t.Errorf("certificate verification failed: %v", err)
	}
}

func TestGenerateKey_And_CSR(t *testing.T) {
	key, keyPEM, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if key == nil || len(keyPEM) == 0 {
		t.Fatal("expected non-nil key and non-empty key PEM")
	}

	csrPEM, err := GenerateCSR(key, "test-cn")
	if err != nil {
		t.Fatalf("GenerateCSR: %v", err)
	}

	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		t.Fatal("expected CERTIFICATE REQUEST PEM block")
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		t.Fatalf("parse CSR: %v", err)
	}
	if csr.Subject.CommonName != "test-cn" {
		t.Errorf("expected CN=test-cn, got %s", csr.Subject.CommonName)
	}
}
