package serve

import (
	"github.com/ValentinKolb/dTable/cmd/util"
	"github.com/ValentinKolb/dTable/lib/catalog"
	"github.com/ValentinKolb/dTable/rpc/common"
	"github.com/ValentinKolb/dTable/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dTable server",
		Long:    `Start the dTable server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DTABLE_<flag> (e.g. DTABLE_DATA_DIR=/var/lib/dtable)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", util.WrapString("DataDir is the root directory of the catalog (master.db, tables/, storage/)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 60, util.WrapString("Timeout in seconds for a single request"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", util.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "cleanup-timer"
	ServeCmd.PersistentFlags().Int64(key, int64(catalog.DefaultIdleThreshold.Seconds()), util.WrapString("Seconds a collection may stay idle before it is evicted from memory"))

	key = "sweep-period"
	ServeCmd.PersistentFlags().Int64(key, int64(catalog.DefaultSweepPeriod.Seconds()), util.WrapString("Seconds between two eviction sweeps"))

	key = "save-cooldown"
	ServeCmd.PersistentFlags().Int64(key, 0, util.WrapString("Minimum seconds between two saves of a collection (0 keeps the default of two minutes)"))

	key = "quiesce-interval"
	ServeCmd.PersistentFlags().Int64(key, 0, util.WrapString("Milliseconds between two checks for running operations (0 keeps the default)"))

	key = "quiesce-retries"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("Checks for running operations before giving up (0 keeps the default)"))

	key = "flush-on-shutdown"
	ServeCmd.PersistentFlags().Bool(key, true, util.WrapString("Save all collections with unsaved changes when the server stops"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.IdleThresholdSec = viper.GetInt64("cleanup-timer")
	serveCmdConfig.SweepPeriodSec = viper.GetInt64("sweep-period")
	serveCmdConfig.SaveCooldownSec = viper.GetInt64("save-cooldown")
	serveCmdConfig.QuiesceIntervalMs = viper.GetInt64("quiesce-interval")
	serveCmdConfig.QuiesceRetries = viper.GetInt("quiesce-retries")
	serveCmdConfig.FlushOnShutdown = viper.GetBool("flush-on-shutdown")

	// validate the log level early, the server would fail later
	_, err := common.ParseLogLevel(serveCmdConfig.LogLevel)
	return err
}

// run starts the dTable server
func run(_ *cobra.Command, _ []string) error {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}
