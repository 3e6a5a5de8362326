package cmd

import (
	"fmt"
	"time"

	"github.com/roffe/lawicel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print received CAN frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		noColor, _ := cmd.Flags().GetBool("no-color")
		statsEvery, _ := cmd.Flags().GetDuration("stats")

		dev, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()

		var statsC <-chan time.Time
		if statsEvery > 0 {
			t := time.NewTicker(statsEvery)
			defer t.Stop()
			statsC = t.C
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-dev.Err():
				if lawicel.IsRecoverable(err) {
					log.WithError(err).Warn("adapter error")
					continue
				}
				return err
			case evt := <-dev.Event():
				logEvent(evt)
			case <-statsC:
				if s, ok := dev.(interface{ Stats() lawicel.Stats }); ok {
					log.Info(s.Stats().String())
				}
			case msg := <-dev.Recv():
				if noColor {
					fmt.Println(msg.String())
				} else {
					fmt.Println(msg.ColorString())
				}
			}
		}
	},
}

func logEvent(evt lawicel.Event) {
	entry := log.WithField("event", evt.Type.String())
	if evt.Err != nil {
		entry = entry.WithError(evt.Err)
	}
	switch evt.Type {
	case lawicel.EventTypeError:
		entry.Error(evt.Details)
	case lawicel.EventTypeWarning:
		entry.Warn(evt.Details)
	case lawicel.EventTypeInfo:
		entry.Info(evt.Details)
	default:
		entry.Debug(evt.Details)
	}
}

func init() {
	monitorCmd.Flags().Bool("no-color", false, "disable colored output")
	monitorCmd.Flags().Duration("stats", 0, "log receive statistics at this interval")
	rootCmd.AddCommand(monitorCmd)
}
