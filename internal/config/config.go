// Package config загружает конфигурацию демонов из YAML файла,
// переменных окружения H323_* и флагов командной строки.
package config

import (
	"strings"

	"github.com/arzzra/h323/internal/logging"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения: H323_GATEKEEPER_ID и т.п.
const EnvPrefix = "H323"

// newViper создает экземпляр с общими правилами: окружение с префиксом,
// ключи с точками отображаются на подчеркивания
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// flagBinding флаг командной строки и ключ конфигурации
type flagBinding struct {
	flag string
	key  string
}

// load читает файл (если задан), привязывает флаги и раскладывает
// результат в out
func load(v *viper.Viper, fs *pflag.FlagSet, bindings []flagBinding, out any) error {
	for _, b := range bindings {
		f := fs.Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return errors.Wrapf(err, "bind flag %s", b.flag)
		}
	}

	file, _ := fs.GetString("config")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", file)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return errors.Wrap(err, "parse config")
	}
	return nil
}

func setLoggingDefaults(v *viper.Viper) {
	d := logging.DefaultConfig()
	v.SetDefault("logging.level", d.Level)
	v.SetDefault("logging.format", d.Format)
	v.SetDefault("logging.file", d.File)
	v.SetDefault("logging.max_size_mb", d.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.MaxBackups)
	v.SetDefault("logging.max_age_days", d.MaxAgeDays)
	v.SetDefault("logging.compress", d.Compress)
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to YAML config file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text, json)")
	fs.String("log-file", "", "rotated log file path")
}

var commonBindings = []flagBinding{
	{"log-level", "logging.level"},
	{"log-format", "logging.format"},
	{"log-file", "logging.file"},
}
