package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/jobpilot/internal/filtering"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/scraper"
)

const (
	app       = "jobpilot"
	envPrefix = "JOBPILOT"
)

type Config struct {
	UserID     string            `mapstructure:"user-id"`
	Database   *DatabaseConfig   `mapstructure:"database"`
	Redis      *RedisConfig      `mapstructure:"redis"`
	AI         *AIConfig         `mapstructure:"ai"`
	Scrape     *ScrapeConfig     `mapstructure:"scrape"`
	Matching   *MatchingConfig   `mapstructure:"matching"`
	Headhunter *HeadhunterConfig `mapstructure:"headhunter"`
	Outreach   *OutreachConfig   `mapstructure:"outreach"`
	// Profile seeds the in-memory store in dry-run mode.
	Profile *ProfileConfig `mapstructure:"profile"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	URLFile string `mapstructure:"url-file"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
	Prompt   *PromptConfig `mapstructure:"prompt"`
}

type GeminiConfig struct {
	APIKey         string `mapstructure:"api-key"`
	APIKeyFile     string `mapstructure:"api-key-file"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
	EmbeddingDim   int    `mapstructure:"embedding-dim"`
	MaxRetries     int    `mapstructure:"max-retries"`
	MaxLogLength   int    `mapstructure:"max-log-length"`
}

type PromptConfig struct {
	ExtraCriteria     string `mapstructure:"extra-criteria"`
	DealBreakers      string `mapstructure:"deal-breakers"`
	CustomKeywords    string `mapstructure:"custom-keywords"`
	Tone              string `mapstructure:"tone"`
	RegionConstraints string `mapstructure:"region-constraints"`
	UserInstructions  string `mapstructure:"user-instructions"`
}

type ScrapeConfig struct {
	Requests        []scraper.Request     `mapstructure:"requests"`
	Schedule        string                `mapstructure:"schedule"`
	IntervalHours   int                   `mapstructure:"interval-hours"`
	Browser         scraper.ChromeOptions `mapstructure:"browser"`
	Timing          scraper.Config        `mapstructure:"timing"`
	Filters         filtering.Config      `mapstructure:"filters"`
	DisabledFilters []string              `mapstructure:"disabled-filters"`
}

type MatchingConfig struct {
	MinScore  int      `mapstructure:"min-score"`
	BatchSize int      `mapstructure:"batch-size"`
	Users     []string `mapstructure:"users"`
}

type HeadhunterConfig struct {
	TokenFile string `mapstructure:"token-file"`
	UserAgent string `mapstructure:"user-agent"`
	Resume    string `mapstructure:"resume"`
}

type OutreachConfig struct {
	Email *EmailConfig `mapstructure:"email"`
}

type EmailConfig struct {
	Region string `mapstructure:"region"`
	From   string `mapstructure:"from"`
}

type ProfileConfig struct {
	FullName    string         `mapstructure:"full-name"`
	Email       string         `mapstructure:"email"`
	Skills      []string       `mapstructure:"skills"`
	Experience  string         `mapstructure:"experience"`
	Education   string         `mapstructure:"education"`
	CareerGoals string         `mapstructure:"career-goals"`
	Preferences map[string]any `mapstructure:"preferences"`
}

func (p *ProfileConfig) toModel(userID string) *model.Profile {
	return &model.Profile{
		UserID:      userID,
		FullName:    p.FullName,
		Email:       p.Email,
		Skills:      p.Skills,
		Experience:  p.Experience,
		Education:   p.Education,
		CareerGoals: p.CareerGoals,
		Preferences: p.Preferences,
	}
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobpilot scrapes job postings, scores them against your profile and sends approved applications",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobpilot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().Bool("dry-run", false, "keep everything in memory and skip redis")
	rootCmd.PersistentFlags().StringP("user", "u", "", "user id to act for (default is user-id from config)")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("dry-run", rootCmd.PersistentFlags().Lookup("dry-run"))
	viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user"))

	viper.SetDefault("matching.min-score", -1)
}

func initConfig() {
	// version needs no configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit config must exist; the default one is optional.
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}
	if config == nil {
		config = &Config{}
	}

	if config.Scrape == nil {
		config.Scrape = &ScrapeConfig{}
	}
	if config.Matching == nil {
		config.Matching = &MatchingConfig{MinScore: -1}
	}
	if config.Headhunter == nil {
		config.Headhunter = &HeadhunterConfig{}
	}

	return config, nil
}
