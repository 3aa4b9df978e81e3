// Package fixconfig loads the ambient .fixlsrc.toml workspace configuration:
// venv, scan excludes, and log level. Of these, only the excludes are
// applied by any command.
package fixconfig

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the ambient config file's name, looked up at the workspace
// root.
const FileName = ".fixlsrc.toml"

// Config is the parsed contents of .fixlsrc.toml. All fields are optional;
// the zero value means "use the auto-detected default".
type Config struct {
	// Venv names a virtualenv root. It is parsed but not read by any
	// command: pyenv.Discover always auto-detects the virtualenv.
	Venv string `toml:"venv"`
	// Excludes are glob patterns, relative to the workspace root, skipped
	// during workspace scans.
	Excludes []string `toml:"excludes"`
	// LogLevel is one of "debug", "info", "warn", "error". It is parsed but
	// not applied by any command; logx's level is set only by FIXLS_DEBUG
	// and the lsp -v flag.
	LogLevel string `toml:"log_level"`
}

// Load reads and parses root/.fixlsrc.toml. A missing file is not an error:
// it returns the zero Config.
func Load(root string) (Config, error) {
	var cfg Config
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
