package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetToken_FromEnv(t *testing.T) {
	tests := []struct {
		name       string
		envVal     string
		wantSource CredentialSource
		wantToken  string
	}{
		{
			name:       "from environment variable",
			envVal:     "test-registry-token-123",
			wantSource: SourceEnv,
			wantToken:  "test-registry-token-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envVarName, tt.envVal)

			source, token := GetToken()

			if source != tt.wantSource {
				t.Errorf("source = %v, want %v", source, tt.wantSource)
			}
			if token != tt.wantToken {
				t.Errorf("token = %v, want %v", token, tt.wantToken)
			}
		})
	}
}

func TestCredentialsFilePath(t *testing.T) {
	path := credentialsFilePath()

	if path == "" {
		t.Skip("Could not determine home directory")
	}

	if !filepath.IsAbs(path) {
		t.Errorf("credentialsFilePath() = %q, want absolute path", path)
	}

	expectedSuffix := filepath.Join(".config", "ctxpack", "registry-token")
	if !containsPath(path, expectedSuffix) {
		t.Errorf("credentialsFilePath() = %q, want to contain %q", path, expectedSuffix)
	}
}

func TestCredentialSource_String(t *testing.T) {
	tests := []struct {
		source CredentialSource
		want   string
	}{
		{SourceEnv, "environment variable"},
		{SourceKeyring, "keyring"},
		{SourceFile, "config file"},
		{SourceNone, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			if got := string(tt.source); got != tt.want {
				t.Errorf("CredentialSource = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteAndReadCredentialsFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	testToken := "test-registry-token-xyz"

	err := writeCredentialsFile(testToken)
	if err != nil {
		t.Fatalf("writeCredentialsFile() error = %v", err)
	}

	got := readCredentialsFile()
	if got != testToken {
		t.Errorf("readCredentialsFile() = %q, want %q", got, testToken)
	}

	path := credentialsFilePath()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("os.Stat() error = %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0o600 {
		t.Errorf("credentials file permissions = %o, want 0600", perm)
	}
}

func TestDeleteCredentialsFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	err := writeCredentialsFile("test-token")
	if err != nil {
		t.Fatalf("writeCredentialsFile() error = %v", err)
	}

	err = deleteCredentialsFile()
	if err != nil {
		t.Errorf("deleteCredentialsFile() error = %v", err)
	}

	path := credentialsFilePath()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("credentials file still exists after delete")
	}
}

func TestDeleteCredentialsFile_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	err := deleteCredentialsFile()
	if err == nil {
		t.Errorf("deleteCredentialsFile() should return error for non-existent file")
	}
}

// containsPath checks if path contains the expectedSuffix.
func containsPath(path, expectedSuffix string) bool {
	return len(path) >= len(expectedSuffix) &&
		path[len(path)-len(expectedSuffix):] == expectedSuffix
}
