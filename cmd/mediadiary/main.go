package main

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/config"
)

func main() {
	if err := newRootCommand(newCLI(os.Stdout)).Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	viper   *viper.Viper
	out     io.Writer
	cfgFile string
}

func newCLI(out io.Writer) *cli {
	return &cli{viper: config.NewClientViper(), out: out}
}

func newRootCommand(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mediadiary",
		Short:         "Personal media diary client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}
	rootCmd.SetOut(c.out)

	c.setupFlags(rootCmd)

	rootCmd.AddCommand(
		c.newStatsCommand(),
		c.newListCommand(),
		c.newAddCommand(),
		c.newUpdateCommand(),
		c.newDeleteCommand(),
		c.newReviewCommand(),
		c.newMilestoneCommand(),
		c.newSettingsCommand(),
	)
	return rootCmd
}

func (c *cli) setupFlags(cmd *cobra.Command) {
	defaults := config.NewClientViper()
	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-url", defaults.GetString("api.base_url"), "Document API base URL")
	cmd.PersistentFlags().String("token", "", "API bearer token (overrides env)")
	cmd.PersistentFlags().Int("timeout-seconds", defaults.GetInt("api.timeout_seconds"), "Per-request timeout in seconds")
	cmd.PersistentFlags().String("user", "", "Diary owner user id")
	cmd.PersistentFlags().String("offline-path", defaults.GetString("offline.path"), "Directory for offline snapshots")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	c.bindFlag(cmd, "api.base_url", "api-url")
	c.bindFlag(cmd, "api.token", "token")
	c.bindFlag(cmd, "api.timeout_seconds", "timeout-seconds")
	c.bindFlag(cmd, "user.id", "user")
	c.bindFlag(cmd, "offline.path", "offline-path")
	c.bindFlag(cmd, "log.level", "log-level")
}

func (c *cli) bindFlag(cmd *cobra.Command, key, flag string) {
	if err := c.viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.viper.SetConfigFile(c.cfgFile)
	}

	if err := c.viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
