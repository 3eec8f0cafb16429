package tune

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// InitLogger configures the global logger from the config. With an empty file
// name logs go to stderr; otherwise pingcap/log handles rotation.
func InitLogger(cfg *Config) error {
	lc := &log.Config{
		Level: cfg.Log.Level,
	}
	if cfg.Log.File != "" {
		lc.File = log.FileLogConfig{
			Filename:   cfg.Log.File,
			MaxSize:    100,
			MaxDays:    7,
			MaxBackups: 3,
		}
	}

	logger, props, err := log.InitLogger(lc)
	if err != nil {
		return errors.Annotate(err, "init logger")
	}
	log.ReplaceGlobals(logger, props)
	return nil
}
