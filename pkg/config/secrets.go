package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration with separate secrets file support and also
// returns the values read from the secrets file, for Redacted. Precedence:
// flags > ENV > secrets file > config file > defaults
//
// Example:
//
//	config.yaml:
//	  aws:
//	    region: eu-west-1
//	  lease:
//	    backend: redis
//
//	secrets.yaml:
//	  aws:
//	    secret_access_key: ...
//	  lease:
//	    redis_url: redis://:password@cache:6379/0
//
// The secrets file is optional and discovered from <ENV_PREFIX>_SECRETS_FILE, then
// next to the config file, then in the working directory.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	v := viper.New()
	if err := l.read(v); err != nil {
		return nil, nil, err
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, nil, err
	}
	var secrets *Config
	if secretsFile != "" {
		secretsViper := viper.New()
		secretsViper.SetConfigFile(secretsFile)
		if err := secretsViper.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		var secretsCfg Config
		if err := secretsViper.Unmarshal(&secretsCfg); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", secretsFile, err)
		}
		secrets = &secretsCfg
		if err := v.MergeConfigMap(secretsViper.AllSettings()); err != nil {
			return nil, nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
	}

	l.override(v)
	cfg, err := l.decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, secrets, nil
}

func (l *ViperLoader) discoverSecretsFile() (string, error) {
	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(raw)
		if secretsFile == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(secretsFile)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, secretsFile, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, secretsFile)
		}
		return secretsFile, nil
	}

	if l.configFile != "" {
		secretsFile := filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile))
		if isFile(secretsFile) {
			return secretsFile, nil
		}
		return "", nil
	}

	for _, ext := range []string{".yaml", ".yml", ".json", ".toml"} {
		if isFile("secrets" + ext) {
			return "secrets" + ext, nil
		}
	}
	return "", nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
