package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseRepoArg(t *testing.T) {
	tests := []struct {
		name        string
		repo        string
		wantOwner   string
		wantName    string
		wantErr     bool
		errContains string
	}{
		{
			name:      "valid owner/repo",
			repo:      "owner/repo",
			wantOwner: "owner",
			wantName:  "repo",
			wantErr:   false,
		},
		{
			name:      "valid with hyphen",
			repo:      "my-org/my-repo",
			wantOwner: "my-org",
			wantName:  "my-repo",
			wantErr:   false,
		},
		{
			name:      "valid with underscore",
			repo:      "my_org/my_repo",
			wantOwner: "my_org",
			wantName:  "my_repo",
			wantErr:   false,
		},
		{
			name:      "valid with numbers",
			repo:      "user123/repo456",
			wantOwner: "user123",
			wantName:  "repo456",
			wantErr:   false,
		},
		{
			name:      "valid with multiple slashes (only first split)",
			repo:      "owner/repo/extra",
			wantOwner: "owner",
			wantName:  "repo/extra",
			wantErr:   false,
		},
		{
			name:        "invalid no slash",
			repo:        "invalid",
			wantErr:     true,
			errContains: "must be owner/repo",
		},
		{
			name:        "invalid empty owner",
			repo:        "/repo",
			wantErr:     true,
			errContains: "must be owner/repo",
		},
		{
			name:        "invalid empty repo",
			repo:        "owner/",
			wantErr:     true,
			errContains: "must be owner/repo",
		},
		{
			name:        "invalid both empty",
			repo:        "/",
			wantErr:     true,
			errContains: "must be owner/repo",
		},
		{
			name:        "invalid empty string",
			repo:        "",
			wantErr:     true,
			errContains: "must be owner/repo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := parseRepoArg(tt.repo)

			if tt.wantErr {
				if err == nil {
					t.Errorf("parseRepoArg(%q) expected error, got nil", tt.repo)
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("parseRepoArg(%q) error = %q, want error containing %q", tt.repo, err.Error(), tt.errContains)
				}
				return
			}

			if err != nil {
				t.Errorf("parseRepoArg(%q) unexpected error: %v", tt.repo, err)
				return
			}

			if repo.Owner != tt.wantOwner {
				t.Errorf("parseRepoArg(%q) owner = %q, want %q", tt.repo, repo.Owner, tt.wantOwner)
			}
			if repo.Name != tt.wantName {
				t.Errorf("parseRepoArg(%q) name = %q, want %q", tt.repo, repo.Name, tt.wantName)
			}
		})
	}
}

func TestParseRepoArg_ErrorMessageIncludesInput(t *testing.T) {
	_, err := parseRepoArg("badformat")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	// Error should include the bad input for debugging
	if !strings.Contains(err.Error(), "badformat") {
		t.Errorf("error message should include the input, got: %v", err)
	}
}

func TestDataDir_CreatesCacheDirectory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, err := dataDir()
	if err != nil {
		t.Fatalf("dataDir() unexpected error: %v", err)
	}

	expectedSuffix := filepath.Join(".cache", "ghoffline")
	if !strings.HasSuffix(dir, expectedSuffix) {
		t.Errorf("dataDir() = %q, want path ending with %q", dir, expectedSuffix)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("data directory was not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("data path is not a directory")
	}
}

func TestDataDir_Idempotent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first, err := dataDir()
	if err != nil {
		t.Fatalf("dataDir() unexpected error: %v", err)
	}
	second, err := dataDir()
	if err != nil {
		t.Fatalf("dataDir() second call unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("dataDir() not stable: %q vs %q", first, second)
	}
}

// Test CLI argument validation through cobra

func TestAddCmd_RequiresOneArg(t *testing.T) {
	rootCmd.SetArgs([]string{"add"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("add command should fail with no arguments")
	}
}

func TestSyncCmd_RequiresOneArg(t *testing.T) {
	rootCmd.SetArgs([]string{"sync"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("sync command should fail with no arguments")
	}
}

func TestShowCmd_RejectsOneArg(t *testing.T) {
	rootCmd.SetArgs([]string{"show", "owner/repo"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("show command should fail without an issue number")
	}
}

func TestReplyCmd_RejectsTwoArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"reply", "owner/repo", "5"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("reply command should fail without a body")
	}
}

func TestRootCmd_RejectsBadLogLevel(t *testing.T) {
	rootCmd.SetArgs([]string{"--log-level", "loud", "repos"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("expected error for unknown log level")
	}
	rootCmd.SetArgs(nil)
	flagLogLevel = "warn"
}

// Benchmark tests

func BenchmarkParseRepoArg(b *testing.B) {
	for i := 0; i < b.N; i++ {
		parseRepoArg("owner/repo")
	}
}
