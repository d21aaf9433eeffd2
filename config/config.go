package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config captures the options of every command. Commands only register the
// flags they use; unset fields keep their file or default values.
type Config struct {
	ConfigFile string

	MboxPath string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string

	RepoDir     string
	Remote      string
	Branch      string
	Commits     []string
	CommitsFile string
	Workers     int
	Describe    bool

	StateDir    string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string

	ListenAddr string

	DryRun   bool
	LogLevel string
	LogDir   string

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// fileConfig mirrors Config for the optional YAML file. Pointers tell
// "unset" apart from zero values.
type fileConfig struct {
	Mbox string `yaml:"mbox"`
	IMAP struct {
		Host               string `yaml:"host"`
		Port               *int   `yaml:"port"`
		User               string `yaml:"user"`
		Pass               string `yaml:"pass"`
		UseTLS             *bool  `yaml:"use_tls"`
		InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
		Folder             string `yaml:"folder"`
	} `yaml:"imap"`
	Repo struct {
		Dir      string   `yaml:"dir"`
		Remote   *string  `yaml:"remote"`
		Branch   string   `yaml:"branch"`
		Commits  []string `yaml:"commits"`
		Workers  *int     `yaml:"workers"`
		Describe *bool    `yaml:"describe"`
	} `yaml:"repo"`
	State struct {
		Dir         string `yaml:"dir"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisDB     *int   `yaml:"redis_db"`
		RedisPrefix string `yaml:"redis_prefix"`
	} `yaml:"state"`
	Listen   string `yaml:"listen"`
	DryRun   *bool  `yaml:"dry_run"`
	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`
	Filter   struct {
		IncludeHeader []string `yaml:"include_header"`
		IncludeBody   []string `yaml:"include_body"`
		ExcludeHeader []string `yaml:"exclude_header"`
		ExcludeBody   []string `yaml:"exclude_body"`
	} `yaml:"filter"`
}

// RegisterGlobalFlags attaches the flags shared by every command.
func RegisterGlobalFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file; explicit flags override its values")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("state-dir", defaultStateDir, "Directory for the persisted record log")
	flags.String("redis-addr", "", "Keep records in Redis at this address instead of the state directory")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("redis-prefix", "patchtrack:", "Key prefix for records kept in Redis")
	return nil
}

// RegisterRepoFlags attaches the flags describing the upstream repository.
func RegisterRepoFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("repo", ".", "Path to the git worktree used for ancestry queries")
	flags.String("remote", "upstream", "Remote whose branches are checked; empty uses local branch names")
	flags.String("branch", "master", "Upstream branch to check for integration")
	flags.Int("workers", 4, "Number of commits resolved concurrently")
	flags.Bool("describe", true, "Record short hash and commit date of integrating commits")
}

// RegisterSourceFlags attaches mail source and filter flags.
func RegisterSourceFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("mbox", "", "Path to an .mbox file with patch mails")
	flags.String("imap-host", "", "IMAP server hostname to fetch patch mails from")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "INBOX", "IMAP folder to read")
	flags.StringArray("commit", nil, "Commit to resolve against the upstream branch (repeatable)")
	flags.String("commits-file", "", "File with one commit per line to resolve")
	flags.Bool("dry-run", false, "Decode and resolve without writing records")
	RegisterFilterFlags(cmd)
}

// RegisterFilterFlags attaches the include/exclude regex flags.
func RegisterFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig builds a Config from defaults, the optional YAML file and the
// parsed flags of cmd, in increasing order of precedence, and validates it.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	cfg := Config{
		IMAPPort:    993,
		UseTLS:      true,
		IMAPFolder:  "INBOX",
		RepoDir:     ".",
		Remote:      "upstream",
		Branch:      "master",
		Workers:     4,
		Describe:    true,
		RedisPrefix: "patchtrack:",
		LogLevel:    "info",
	}

	var err error
	if cfg.ConfigFile, err = stringValue(flags, "config"); err != nil {
		return Config{}, err
	}
	if cfg.ConfigFile != "" {
		if err := applyFile(&cfg, cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	if err := applyFlags(&cfg, flags); err != nil {
		return Config{}, err
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if cfg.StateDir == "" {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if cfg.CommitsFile != "" {
		commits, err := readCommitsFile(cfg.CommitsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Commits = append(cfg.Commits, commits...)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}

	setString(&cfg.MboxPath, fc.Mbox)
	setString(&cfg.IMAPHost, fc.IMAP.Host)
	setInt(&cfg.IMAPPort, fc.IMAP.Port)
	setString(&cfg.IMAPUser, fc.IMAP.User)
	setString(&cfg.IMAPPass, fc.IMAP.Pass)
	setBool(&cfg.UseTLS, fc.IMAP.UseTLS)
	setBool(&cfg.InsecureSkipVerify, fc.IMAP.InsecureSkipVerify)
	setString(&cfg.IMAPFolder, fc.IMAP.Folder)
	setString(&cfg.RepoDir, fc.Repo.Dir)
	if fc.Repo.Remote != nil {
		cfg.Remote = *fc.Repo.Remote
	}
	setString(&cfg.Branch, fc.Repo.Branch)
	cfg.Commits = append(cfg.Commits, fc.Repo.Commits...)
	setInt(&cfg.Workers, fc.Repo.Workers)
	setBool(&cfg.Describe, fc.Repo.Describe)
	setString(&cfg.StateDir, fc.State.Dir)
	setString(&cfg.RedisAddr, fc.State.RedisAddr)
	setInt(&cfg.RedisDB, fc.State.RedisDB)
	setString(&cfg.RedisPrefix, fc.State.RedisPrefix)
	setString(&cfg.ListenAddr, fc.Listen)
	setBool(&cfg.DryRun, fc.DryRun)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogDir, fc.LogDir)
	cfg.IncludeHeader = append(cfg.IncludeHeader, fc.Filter.IncludeHeader...)
	cfg.IncludeBody = append(cfg.IncludeBody, fc.Filter.IncludeBody...)
	cfg.ExcludeHeader = append(cfg.ExcludeHeader, fc.Filter.ExcludeHeader...)
	cfg.ExcludeBody = append(cfg.ExcludeBody, fc.Filter.ExcludeBody...)

	return nil
}

// applyFlags copies flag values into cfg. A flag overrides the current value
// when it was set explicitly; otherwise its default only fills empty fields.
func applyFlags(cfg *Config, flags *pflag.FlagSet) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"mbox", &cfg.MboxPath},
		{"imap-host", &cfg.IMAPHost},
		{"imap-user", &cfg.IMAPUser},
		{"imap-pass", &cfg.IMAPPass},
		{"imap-folder", &cfg.IMAPFolder},
		{"repo", &cfg.RepoDir},
		{"branch", &cfg.Branch},
		{"commits-file", &cfg.CommitsFile},
		{"state-dir", &cfg.StateDir},
		{"redis-addr", &cfg.RedisAddr},
		{"redis-prefix", &cfg.RedisPrefix},
		{"listen", &cfg.ListenAddr},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
	}
	for _, s := range strs {
		if flag := flags.Lookup(s.name); flag == nil || (!flag.Changed && *s.dst != "") {
			continue
		}
		v, err := flags.GetString(s.name)
		if err != nil {
			return err
		}
		*s.dst = v
	}

	// remote may legitimately be empty, so only an explicit flag overrides it.
	if flag := flags.Lookup("remote"); flag != nil && flag.Changed {
		v, err := flags.GetString("remote")
		if err != nil {
			return err
		}
		cfg.Remote = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"imap-port", &cfg.IMAPPort},
		{"workers", &cfg.Workers},
		{"redis-db", &cfg.RedisDB},
	}
	for _, i := range ints {
		if flag := flags.Lookup(i.name); flag == nil || !flag.Changed {
			continue
		}
		v, err := flags.GetInt(i.name)
		if err != nil {
			return err
		}
		*i.dst = v
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"use-tls", &cfg.UseTLS},
		{"insecure-skip-verify", &cfg.InsecureSkipVerify},
		{"describe", &cfg.Describe},
		{"dry-run", &cfg.DryRun},
	}
	for _, b := range bools {
		if flag := flags.Lookup(b.name); flag == nil || !flag.Changed {
			continue
		}
		v, err := flags.GetBool(b.name)
		if err != nil {
			return err
		}
		*b.dst = v
	}

	arrays := []struct {
		name string
		dst  *[]string
	}{
		{"commit", &cfg.Commits},
		{"include-header", &cfg.IncludeHeader},
		{"include-body", &cfg.IncludeBody},
		{"exclude-header", &cfg.ExcludeHeader},
		{"exclude-body", &cfg.ExcludeBody},
	}
	for _, a := range arrays {
		if flag := flags.Lookup(a.name); flag == nil || !flag.Changed {
			continue
		}
		v, err := flags.GetStringArray(a.name)
		if err != nil {
			return err
		}
		*a.dst = append(*a.dst, v...)
	}

	return nil
}

func validateConfig(cfg Config) error {
	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("--redis-db must not be negative")
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func readCommitsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commits file: %w", err)
	}
	var commits []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commits = append(commits, line)
	}
	return commits, nil
}

func stringValue(flags *pflag.FlagSet, name string) (string, error) {
	if flags.Lookup(name) == nil {
		return "", nil
	}
	return flags.GetString(name)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".patchtrack", "state"), nil
}
