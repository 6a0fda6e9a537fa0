/*
 * Copyright (c) Marco Tusa 2021 - present
 *                     GNU GENERAL PUBLIC LICENSE
 *                        Version 3, 29 June 2007
 *
 *  Copyright (C) 2007 Free Software Foundation, Inc. <https://fsf.org/>
 *  Everyone is permitted to copy and distribute verbatim copies
 *  of this license document, but changing it is not allowed.
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */


package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"replication_monitor/internal/Alert"
	DO "replication_monitor/internal/DataObjects"
	global "replication_monitor/internal/Global"
	"replication_monitor/internal/Metrics"
	"replication_monitor/internal/Monitor"
	store "replication_monitor/internal/Store"
)

var replicationMonitorVersion = "1.0.0"

const (
	exitClean     = 0
	exitInitError = 1
	exitUnhealthy = 2
)

var (
	configFile string
	configPath string
	exitCode   = exitClean
)

/*
Main function must contain only initial parameter, log system init and main object init
*/
func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		exitWithCode(exitInitError)
	}
	exitWithCode(exitCode)
}

// app is everything a command needs, built from the configuration
type app struct {
	config   global.Configuration
	registry *DO.Registry
	monitor  *Monitor.Monitor
	metrics  *Metrics.Metrics
}

func configFullPath() (string, error) {
	if configFile == "" {
		return "", fmt.Errorf("you must at least pass the --configfile=xxx parameter")
	}
	if configPath != "" {
		if strings.HasSuffix(configPath, global.Separator) {
			return configPath + configFile, nil
		}
		return configPath + global.Separator + configFile, nil
	}
	currPath, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("problem loading the config: %w", err)
	}
	return currPath + global.Separator + "config" + global.Separator + configFile, nil
}

func setup() (*app, error) {
	path, err := configFullPath()
	if err != nil {
		return nil, err
	}
	//Return our full configuration from file
	config, err := global.GetConfig(path)
	if err != nil {
		return nil, err
	}
	//Let us do a sanity check on the configuration to prevent most obvious issues and normalize some params
	if err := config.SanityCheck(); err != nil {
		return nil, err
	}
	if !global.InitLog(config) {
		return nil, fmt.Errorf("not able to initialize log system")
	}

	registry := DO.NewRegistry(config.Servers, time.Duration(config.Monitor.ConnectTimeoutMs)*time.Millisecond)
	executor := DO.NewExecutor(registry, config.Monitor.TestSchema)

	var history store.Store
	switch config.Log.Backend {
	case global.BackendMemory:
		history = store.NewMemoryStore()
	default:
		mysqlStore, err := store.NewMySQLStore(registry, config.Log.ServerId, config.Log.Schema)
		if err != nil {
			return nil, err
		}
		history = mysqlStore
	}

	var metrics *Metrics.Metrics
	if config.Global.MetricsAddress != "" {
		metrics = Metrics.New()
	}

	monitor, err := Monitor.New(config, executor, history, Alert.NewMailer(config.Mailer), metrics)
	if err != nil {
		return nil, err
	}
	return &app{config: config, registry: registry, monitor: monitor, metrics: metrics}, nil
}

func (a *app) close() {
	a.registry.Close()
}

// withApp builds the app, runs fn and keeps its exit code
func withApp(fn func(ctx context.Context, a *app) int) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		exitCode = fn(ctx, a)
		return nil
	}
}

func (a *app) requireServer(ids ...string) error {
	for _, id := range ids {
		if _, ok := a.config.Server(id); !ok {
			return fmt.Errorf("server |%s| is not defined in the configuration", id)
		}
	}
	return nil
}

/*
runCycles is the cron entry point, or the daemon loop when daemonize is set.
The lock is held for one cycle at a time.
*/
func runCycles(ctx context.Context, a *app, heal bool) int {
	lock := global.NewRunLock(a.config, configFile)

	if a.metrics != nil {
		go func() {
			if err := a.metrics.Serve(ctx, a.config.Global.MetricsAddress); err != nil {
				log.Error("Metrics endpoint stopped: ", err)
			}
		}()
	}

	if err := a.monitor.Prepare(ctx, a.monitor.NewSession()); err != nil {
		log.Warning("Bootstrap incomplete, continuing: ", err)
	}

	for {
		if !lock.Acquire() {
			log.Error("Cannot create a lock, exit")
			return exitInitError
		}

		sess := a.monitor.NewSession()
		var errorsCount int
		if heal {
			errorsCount = a.monitor.TestAndHeal(ctx, sess)
		} else {
			errorsCount = a.monitor.Test(ctx, sess)
		}
		log.Info(fmt.Sprintf("Cycle finished with %d error(s)", errorsCount))
		lock.Release()

		if !a.config.Global.Daemonize {
			if errorsCount > 0 {
				return exitUnhealthy
			}
			return exitClean
		}

		select {
		case <-ctx.Done():
			log.Info("Stopping daemon loop")
			return exitClean
		case <-time.After(time.Duration(a.config.Global.DaemonInterval) * time.Millisecond):
		}
	}
}

func healthCode(healthy bool) int {
	if healthy {
		return exitClean
	}
	return exitUnhealthy
}

// slaveAction wires a manual action taking only the slave
func slaveAction(use string, short string, action func(m *Monitor.Monitor, ctx context.Context, sess *DO.Session, slave string) int) *cobra.Command {
	var slave string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: withApp(func(ctx context.Context, a *app) int {
			if err := a.requireServer(slave); err != nil {
				log.Error(err)
				return exitInitError
			}
			sess := a.monitor.NewSession()
			defer sess.Flush(ctx)
			return action(a.monitor, ctx, sess, slave)
		}),
	}
	cmd.Flags().StringVar(&slave, "slave", "", "slave server id")
	cmd.MarkFlagRequired("slave")
	return cmd
}

// edgeAction wires a manual action needing the master too
func edgeAction(use string, short string, action func(m *Monitor.Monitor, ctx context.Context, sess *DO.Session, master string, slave string) bool) *cobra.Command {
	var master, slave string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: withApp(func(ctx context.Context, a *app) int {
			if err := a.requireServer(master, slave); err != nil {
				log.Error(err)
				return exitInitError
			}
			sess := a.monitor.NewSession()
			defer sess.Flush(ctx)
			return healthCode(action(a.monitor, ctx, sess, master, slave))
		}),
	}
	cmd.Flags().StringVar(&master, "master", "", "master server id")
	cmd.Flags().StringVar(&slave, "slave", "", "slave server id")
	cmd.MarkFlagRequired("master")
	cmd.MarkFlagRequired("slave")
	return cmd
}

func newRootCommand() *cobra.Command {
	//initialize help
	help := new(global.HelpText)
	help.Init()

	root := &cobra.Command{
		Use:           "replication_monitor",
		Short:         help.GetShortText(),
		Long:          help.GetHelpText(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "configfile", "", "Config file name for the script")
	root.PersistentFlags().StringVar(&configPath, "configpath", "", "Config file path")

	root.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Check every topology and report the errors",
		RunE: withApp(func(ctx context.Context, a *app) int {
			return runCycles(ctx, a, false)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "heal",
		Short: "Check every topology, heal what is broken and report",
		RunE: withApp(func(ctx context.Context, a *app) int {
			return runCycles(ctx, a, true)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Create the log store and the probe table",
		RunE: withApp(func(ctx context.Context, a *app) int {
			sess := a.monitor.NewSession()
			defer sess.Flush(ctx)
			if err := a.monitor.Prepare(ctx, sess); err != nil {
				log.Error("Bootstrap failed: ", err)
				return exitInitError
			}
			return exitClean
		}),
	})

	root.AddCommand(slaveAction("start-slave", "START SLAVE and check",
		func(m *Monitor.Monitor, ctx context.Context, sess *DO.Session, slave string) int {
			return healthCode(m.StartSlave(ctx, sess, slave))
		}))
	root.AddCommand(slaveAction("stop-slave", "STOP SLAVE, succeeds when the threads are down",
		func(m *Monitor.Monitor, ctx context.Context, sess *DO.Session, slave string) int {
			return healthCode(!m.StopSlave(ctx, sess, slave))
		}))
	root.AddCommand(slaveAction("skip-error", "Skip events until the slave runs or the attempts are over",
		func(m *Monitor.Monitor, ctx context.Context, sess *DO.Session, slave string) int {
			return healthCode(m.SkipError(ctx, sess, slave))
		}))
	root.AddCommand(slaveAction("reset-slave", "Reset the slave on its executed position",
		func(m *Monitor.Monitor, ctx context.Context, sess *DO.Session, slave string) int {
			return healthCode(m.ResetSlave(ctx, sess, slave))
		}))
	root.AddCommand(edgeAction("restart-slave", "Run the reset tiers until the slave is healthy",
		(*Monitor.Monitor).RestartSlave))
	root.AddCommand(edgeAction("reset-slave-to-master", "Point the slave at the master current position",
		(*Monitor.Monitor).ResetSlaveToMaster))

	var eventId int64
	hide := &cobra.Command{
		Use:   "hide-event",
		Short: "Mark a timeline event as hidden for presentation",
		RunE: withApp(func(ctx context.Context, a *app) int {
			if err := a.monitor.HideEvent(ctx, a.monitor.NewSession(), eventId); err != nil {
				log.Error(err)
				return exitInitError
			}
			return exitClean
		}),
	}
	hide.Flags().Int64Var(&eventId, "id", 0, "timeline event id")
	hide.MarkFlagRequired("id")
	root.AddCommand(hide)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Replication Monitor Version: ", replicationMonitorVersion)
		},
	})
	return root
}

func exitWithCode(errorCode int) {
	log.Debug("Exiting execution with code ", errorCode)
	os.Exit(errorCode)
}
