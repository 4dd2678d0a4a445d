// common/configloader/configloader.go
package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Validator is implemented by config structs that can check themselves
// after decoding.
type Validator interface {
	Validate() error
}

// Load fills cfgPtr from registered defaults, an optional YAML/JSON file and
// environment variables. envPrefix is upper-cased by viper, e.g. "EVENTBUS"
// makes EVENTBUS_HTTP_ADDR override http.addr.
func Load(path, envPrefix string, cfgPtr interface{}) error {
	v, err := newViper(path, envPrefix)
	if err != nil {
		return err
	}

	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	if val, ok := cfgPtr.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}
	return nil
}

func newViper(path, envPrefix string) (*viper.Viper, error) {
	v := viper.New()

	for key, val := range getDefaults() {
		v.SetDefault(key, val)
	}

	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}
	return v, nil
}
