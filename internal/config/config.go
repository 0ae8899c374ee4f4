package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	GeneralParams  GeneralParams
	WhatsAppParams WhatsAppParams
	WhisperParams  WhisperParams
	ValkeyParams   ValkeyParams
	S3Params       S3Params
}

type GeneralParams struct {
	Env               string
	SecretKey         string
	HTTPaddress       string
	DataDir           string
	AdminPasswordHash string
}

type WhatsAppParams struct {
	AccessToken      string
	PhoneNumberID    string
	VerifyToken      string
	APIBaseURL       string
	TemplateName     string
	TemplateLanguage string
}

type WhisperParams struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
}

type ValkeyParams struct {
	Host     string
	Password string
}

type S3Params struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

type ConfigManager struct {
	v      *viper.Viper
	config *Config
}

// NewConfigManager creates new config manager that handles
// all viper config options and loads a config from yaml
func NewConfigManager(configPath string) (*ConfigManager, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cm := &ConfigManager{v: v}

	if err := cm.loadConfig(); err != nil {
		return nil, err
	}

	return cm, nil
}

// Extracting data from yaml file and loading into Config
func (cm *ConfigManager) loadConfig() error {
	cm.config = &Config{
		GeneralParams: GeneralParams{
			Env:               cm.v.GetString("general_params.env"),
			SecretKey:         cm.v.GetString("general_params.secret_key"),
			HTTPaddress:       cm.v.GetString("general_params.http_server_address"),
			DataDir:           cm.v.GetString("general_params.data_dir"),
			AdminPasswordHash: cm.v.GetString("general_params.admin_password_hash"),
		},
		WhatsAppParams: WhatsAppParams{
			AccessToken:      cm.v.GetString("whatsapp_params.access_token"),
			PhoneNumberID:    cm.v.GetString("whatsapp_params.phone_number_id"),
			VerifyToken:      cm.v.GetString("whatsapp_params.verify_token"),
			APIBaseURL:       cm.v.GetString("whatsapp_params.api_base_url"),
			TemplateName:     cm.v.GetString("whatsapp_params.template_name"),
			TemplateLanguage: cm.v.GetString("whatsapp_params.template_language"),
		},
		WhisperParams: WhisperParams{
			APIKey:     cm.v.GetString("whisper_params.api_key"),
			Model:      cm.v.GetString("whisper_params.model"),
			BaseURL:    cm.v.GetString("whisper_params.base_url"),
			MaxRetries: cm.v.GetInt("whisper_params.max_retries"),
		},
		ValkeyParams: ValkeyParams{
			Host:     cm.v.GetString("valkey_params.db_host"),
			Password: cm.v.GetString("valkey_params.db_password"),
		},
		S3Params: S3Params{
			Endpoint:        cm.v.GetString("s3_params.endpoint"),
			AccessKeyID:     cm.v.GetString("s3_params.access_key_id"),
			SecretAccessKey: cm.v.GetString("s3_params.secret_access_key"),
			UseSSL:          cm.v.GetBool("s3_params.use_ssl"),
			BucketName:      cm.v.GetString("s3_params.bucket_name"),
		},
	}
	return nil
}

// Geting config instance
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// ForwardDestinations returns the current forward recipient list. Read
// from viper on every call so the list is consulted fresh per message.
func (cm *ConfigManager) ForwardDestinations() []string {
	raw := cm.v.GetStringSlice("whatsapp_params.forward_to")

	out := make([]string, 0, len(raw))
	for _, dest := range raw {
		if dest = strings.TrimSpace(dest); dest != "" {
			out = append(out, dest)
		}
	}
	return out
}

func (c *Config) Validate() error {
	// Checking secret key
	if c.GeneralParams.SecretKey == "" {
		return fmt.Errorf("parameter secret_key is required")
	}

	// Checking http address
	if c.GeneralParams.HTTPaddress == "" {
		return fmt.Errorf("parameter http_server_address is requred")
	}

	// Checking data dir
	if c.GeneralParams.DataDir == "" {
		return fmt.Errorf("parameter data_dir is required")
	}

	// Checking out enviroment variable
	switch c.GeneralParams.Env {
	case "dev", "prod", "test":
	default:
		return fmt.Errorf("env parameter is invalid: %s. try dev/prod/test instead", c.GeneralParams.Env)
	}

	// Checking WhatsApp params
	if c.WhatsAppParams.AccessToken == "" {
		return fmt.Errorf("whatsapp access_token is required")
	}
	if c.WhatsAppParams.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp phone_number_id is required")
	}
	if c.WhatsAppParams.VerifyToken == "" {
		return fmt.Errorf("whatsapp verify_token is required")
	}

	// Checking Whisper params
	if c.WhisperParams.APIKey == "" {
		return fmt.Errorf("whisper api_key is required")
	}
	if c.WhisperParams.MaxRetries < 0 {
		return fmt.Errorf("whisper max_retries must not be negative")
	}

	// S3 archive is optional. When an endpoint is set the rest of the
	// section is required.
	if c.S3Params.Endpoint != "" {
		if c.S3Params.AccessKeyID == "" {
			return fmt.Errorf("S3 access_key id is required")
		}
		if c.S3Params.SecretAccessKey == "" {
			return fmt.Errorf("S3 secret_access_key is required")
		}
		if c.S3Params.BucketName == "" {
			return fmt.Errorf("S3 bucket name is required")
		}
	}

	return nil
}
