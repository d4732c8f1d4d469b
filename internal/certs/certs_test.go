package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureSelfSignedGeneratesValidKeyPair(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	if err := EnsureSelfSigned(certPath, keyPath, []string{"localhost", "127.0.0.1"}); err != nil {
		t.Fatalf("EnsureSelfSigned failed: %v", err)
	}

	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		t.Fatalf("generated cert/key do not form a valid pair: %v", err)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("cert file is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if err := cert.VerifyHostname("localhost"); err != nil {
		t.Fatalf("cert not valid for localhost: %v", err)
	}
}

func TestEnsureSelfSignedIsANoOpWhenFilesExist(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	if err := EnsureSelfSigned(certPath, keyPath, []string{"localhost"}); err != nil {
		t.Fatalf("first generation failed: %v", err)
	}
	firstCert, _ := os.ReadFile(certPath)

	if err := EnsureSelfSigned(certPath, keyPath, []string{"localhost"}); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	secondCert, _ := os.ReadFile(certPath)

	if string(firstCert) != string(secondCert) {
		t.Fatal("expected EnsureSelfSigned to leave existing files untouched")
	}
}
