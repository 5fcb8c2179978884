package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/splatlod/config"
	"go.viam.com/splatlod/logging"
)

// printf prints a message with a newline.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}

// setup creates the command logger and loads the config named by --config, falling back
// to the defaults.
func setup(c *cli.Context) (logging.Logger, *config.Config, error) {
	logger := logging.RegisterLogger(logging.NewLogger("splatlod"))
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}

	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(c.Context, path, logger); err != nil {
			return nil, nil, err
		}
	}
	if len(cfg.LogConfig) > 0 {
		logConfig := cfg.LogConfig
		if c.Bool(flagDebug) {
			logConfig = append([]logging.LoggerPatternConfig{{Pattern: "splatlod", Level: "debug"}}, logConfig...)
		}
		if err := logging.UpdateLoggerLevels(logConfig, logger); err != nil {
			return nil, nil, err
		}
	}
	return logger, cfg, nil
}
