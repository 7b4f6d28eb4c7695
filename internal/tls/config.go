package tls

// Config is the [server.tls] section of the daemon config.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	CertFile     string        `mapstructure:"cert_file"`
	KeyFile      string        `mapstructure:"key_file"`
	Dir          string        `mapstructure:"dir"` // holds tls.crt / tls.key when the file paths are empty
	MinVersion   string        `mapstructure:"min_version"`
	MaxVersion   string        `mapstructure:"max_version"`
	AutoGenerate bool          `mapstructure:"auto_generate"` // write a self-signed pair into Dir when none exists
	AutoGen      AutoGenConfig `mapstructure:"auto_gen"`
}

// AutoGenConfig describes the self-signed certificate created by AutoGenerate.
type AutoGenConfig struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// Development returns a config that serves a self-signed localhost
// certificate kept in certDir.
func Development(certDir string) Config {
	return Config{
		Enabled:      true,
		Dir:          certDir,
		AutoGenerate: true,
		AutoGen: AutoGenConfig{
			CommonName: "localhost",
			DNSNames:   []string{"localhost"},
			ValidDays:  365,
		},
	}
}

// CACertPath is where AutoGenerate writes the certificate clients should trust.
func (c Config) CACertPath() string {
	if c.Dir == "" {
		return ""
	}
	return joinDir(c.Dir, tlsCaCrt)
}
