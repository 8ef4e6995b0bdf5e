package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prochestra/prochestra/agent"
	"github.com/prochestra/prochestra/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "prochestra", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().Int("executor-capacity", 16, "step dispatcher capacity")
	cmd.Flags().Int("evaluation-batch", 20, "evaluation queue poll batch size")
	cmd.Flags().Int("evaluation-tick", 1, "evaluation queue poll interval in seconds")
	cmd.Flags().Int("timeout-tick", 1, "timeout queue poll interval in seconds")
	cmd.Flags().Bool("audit-stream", false, "publish audit events to a redis stream")
	cmd.Flags().Int64("audit-stream-maxlen", 10000, "approximate max length of the audit stream")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.StepExecutorCapacity = viper.GetInt("executor-capacity")
	c.cfg.EvaluationBatchSize = viper.GetInt("evaluation-batch")
	c.cfg.EvaluationTickSeconds = viper.GetInt("evaluation-tick")
	c.cfg.TimeoutTickSeconds = viper.GetInt("timeout-tick")
	c.cfg.AuditStreamEnabled = viper.GetBool("audit-stream")
	c.cfg.AuditStreamMaxLen = viper.GetInt64("audit-stream-maxlen")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "prochestra",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
