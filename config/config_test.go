package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("IMAP_PASS", "")

	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	require.NoError(t, RegisterGlobalFlags(cmd))
	RegisterSourceFlags(cmd)
	RegisterRepoFlags(cmd)
	cmd.Flags().String("listen", ":8080", "")
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return cmd
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t))
	require.NoError(t, err)

	assert.Equal(t, "upstream", cfg.Remote)
	assert.Equal(t, "master", cfg.Branch)
	assert.Equal(t, ".", cfg.RepoDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Describe)
	assert.Equal(t, "INBOX", cfg.IMAPFolder)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "patchtrack:", cfg.RedisPrefix)
	assert.Equal(t, filepath.Join(".patchtrack", "state"), filepath.Join(filepath.Base(filepath.Dir(cfg.StateDir)), filepath.Base(cfg.StateDir)))
}

func TestLoadConfig_Flags(t *testing.T) {
	cmd := newCommand(t,
		"--branch", "next",
		"--remote", "",
		"--commit", "abc",
		"--commit", "def",
		"--workers", "8",
		"--describe=false",
		"--log-level", "WARNING",
		"--dry-run",
	)
	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "next", cfg.Branch)
	assert.Equal(t, "", cfg.Remote)
	assert.Equal(t, []string{"abc", "def"}, cfg.Commits)
	assert.Equal(t, 8, cfg.Workers)
	assert.False(t, cfg.Describe)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.DryRun)
}

func TestLoadConfig_FileUnderFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchtrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mbox: /srv/git.mbox
repo:
  dir: /srv/git
  remote: origin
  branch: maint
  commits: [c1]
  workers: 2
state:
  redis_addr: 127.0.0.1:6379
  redis_db: 3
filter:
  include_header: ["Subject: \\[PATCH"]
log_level: debug
`), 0o600))

	cfg, err := LoadConfig(newCommand(t, "--config", path, "--branch", "master", "--commit", "c2"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/git.mbox", cfg.MboxPath)
	assert.Equal(t, "/srv/git", cfg.RepoDir)
	assert.Equal(t, "origin", cfg.Remote)
	assert.Equal(t, "master", cfg.Branch, "explicit flag wins over the file")
	assert.Equal(t, []string{"c1", "c2"}, cfg.Commits)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{`Subject: \[PATCH`}, cfg.IncludeHeader)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_CommitsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.txt")
	require.NoError(t, os.WriteFile(path, []byte("# pending series\nabc\n\n  def  \n"), 0o600))

	cfg, err := LoadConfig(newCommand(t, "--commits-file", path, "--commit", "xyz"))
	require.NoError(t, err)
	assert.Equal(t, []string{"xyz", "abc", "def"}, cfg.Commits)
}

func TestLoadConfig_IMAPPasswordFromEnv(t *testing.T) {
	cmd := newCommand(t, "--imap-host", "imap.example.com", "--imap-user", "me")
	t.Setenv("IMAP_PASS", "secret")

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.IMAPPass)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"imap without user", []string{"--imap-host", "imap.example.com", "--imap-pass", "x"}},
		{"imap without password", []string{"--imap-host", "imap.example.com", "--imap-user", "me"}},
		{"bad port", []string{"--imap-host", "h", "--imap-user", "u", "--imap-pass", "p", "--imap-port", "70000"}},
		{"no workers", []string{"--workers", "0"}},
		{"include and exclude", []string{"--include-header", "a", "--exclude-body", "b"}},
		{"log level", []string{"--log-level", "verbose"}},
		{"negative redis db", []string{"--redis-db", "-1"}},
		{"missing config file", []string{"--config", "/does/not/exist.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(newCommand(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_SubsetOfFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := &cobra.Command{Use: "decode", RunE: func(*cobra.Command, []string) error { return nil }}
	require.NoError(t, RegisterGlobalFlags(cmd))
	RegisterFilterFlags(cmd)
	cmd.SetArgs([]string{"--exclude-header", "RFC"})
	require.NoError(t, cmd.Execute())

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"RFC"}, cfg.ExcludeHeader)
	assert.Equal(t, "master", cfg.Branch)
}
