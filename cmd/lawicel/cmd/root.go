package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/roffe/lawicel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "lawicel",
	Short:        "LAWICEL CAN adapter tool",
	Long:         `Monitor, send and decode CAN traffic on LAWICEL ASCII adapters (CANUSB, slcan) and their MQTT/NATS tunnels`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		debug, _ := cmd.Flags().GetBool(flagDebug)
		if debug {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagAdapter        = "adapter"
	flagPort           = "port"
	flagBaudrate       = "baudrate"
	flagCANRate        = "canrate"
	flagFilter         = "filter"
	flagDebug          = "debug"
	flagConfig         = "config"
	flagTopic          = "topic"
	flagCeiling        = "ceiling"
	flagStatusInterval = "status-interval"
	flagVersion        = "print-version"
)

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", "CANUSB VCP", "what adapter to use")
	pf.StringP(flagPort, "p", "", "com-port, FTDI serial or broker url")
	pf.IntP(flagBaudrate, "b", 115200, "baudrate")
	pf.StringP(flagCANRate, "r", "500", "CAN rate in kbit/s, e.g. 500, 47.619 or 1M")
	pf.StringSliceP(flagFilter, "f", nil, "CAN identifiers to accept, empty accepts all")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagConfig, "c", "", "ini file with adapter settings")
	pf.String(flagTopic, "", "topic or subject prefix for bus adapters")
	pf.Int(flagCeiling, lawicel.DefaultCeiling, "receive buffer ceiling in bytes")
	pf.Duration(flagStatusInterval, 0, "poll adapter status flags at this interval, 0 disables")
	pf.Bool(flagVersion, false, "print adapter version and serial on open")
}

// adapterConfig builds the adapter settings from the flags and the optional
// config file, flags given on the command line win.
func adapterConfig(cmd *cobra.Command) (string, *lawicel.AdapterConfig, error) {
	f := cmd.Flags()
	adapterName, _ := f.GetString(flagAdapter)
	port, _ := f.GetString(flagPort)
	baudrate, _ := f.GetInt(flagBaudrate)
	rate, _ := f.GetString(flagCANRate)
	filters, _ := f.GetStringSlice(flagFilter)
	debug, _ := f.GetBool(flagDebug)
	topic, _ := f.GetString(flagTopic)
	ceiling, _ := f.GetInt(flagCeiling)
	interval, _ := f.GetDuration(flagStatusInterval)
	printVersion, _ := f.GetBool(flagVersion)

	canRate, err := lawicel.ParseCANRate(rate)
	if err != nil {
		return "", nil, err
	}
	ids, err := parseIdentifiers(filters)
	if err != nil {
		return "", nil, err
	}

	cfg := &lawicel.AdapterConfig{
		Debug:          debug,
		PrintVersion:   printVersion,
		Port:           port,
		PortBaudrate:   baudrate,
		CANRate:        canRate,
		CANFilter:      ids,
		Topic:          topic,
		Ceiling:        ceiling,
		StatusInterval: interval,
		Logger:         log.StandardLogger(),
	}

	if configFile, _ := f.GetString(flagConfig); configFile != "" {
		fc, err := loadConfigFile(configFile)
		if err != nil {
			return "", nil, err
		}
		if adapterName, err = fc.apply(adapterName, cfg, f.Changed); err != nil {
			return "", nil, err
		}
	}
	return adapterName, cfg, nil
}

func parseIdentifiers(list []string) ([]uint32, error) {
	var ids []uint32
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid identifier %q: %w", s, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

func lookupAdapterInfo(name string) (lawicel.AdapterInfo, bool) {
	for _, info := range lawicel.ListAdapters() {
		if strings.EqualFold(info.Name, name) {
			return info, true
		}
	}
	return lawicel.AdapterInfo{}, false
}

// openAdapter creates and opens the configured adapter.
func openAdapter(cmd *cobra.Command) (lawicel.Adapter, error) {
	adapterName, cfg, err := adapterConfig(cmd)
	if err != nil {
		return nil, err
	}
	info, found := lookupAdapterInfo(adapterName)
	if !found {
		return nil, fmt.Errorf("unknown adapter %q, available: %s", adapterName, strings.Join(lawicel.ListAdapterNames(), ", "))
	}
	if info.RequiresSerialPort {
		if cfg.Port == "" {
			if cfg.Port, err = selectPort(); err != nil {
				return nil, err
			}
		} else if _, err := lawicel.FindPort(cfg.Port); err != nil {
			return nil, err
		}
	}
	dev, err := lawicel.NewAdapter(info.Name, cfg)
	if err != nil {
		return nil, err
	}
	if err := dev.Open(cmd.Context()); err != nil {
		return nil, err
	}
	return dev, nil
}

func selectPort() (string, error) {
	ports, err := lawicel.ListSerialPorts()
	if err != nil {
		return "", err
	}
	if len(ports) == 1 {
		return ports[0].Name, nil
	}
	items := make([]string, len(ports))
	for i, p := range ports {
		items[i] = p.String()
	}
	prompt := promptui.Select{
		Label:    "Select port",
		HideHelp: true,
		Items:    items,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return "", errors.New("no port selected")
		}
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return ports[idx].Name, nil
}
