//go:build linux

package cmd

import (
	"context"

	"github.com/brutella/can"
	"github.com/roffe/lawicel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <interface>",
	Short: "bridge the adapter to a SocketCAN interface",
	Long:  `forward every frame received on the adapter to a SocketCAN interface such as vcan0, and the other way around`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bus, err := can.NewBusForInterfaceWithName(args[0])
		if err != nil {
			return err
		}
		dev, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()
		return runBridge(cmd.Context(), dev, bus)
	},
}

func runBridge(ctx context.Context, dev lawicel.Adapter, bus *can.Bus) error {
	g, gctx := errgroup.WithContext(ctx)

	bus.SubscribeFunc(func(f can.Frame) {
		msg, err := lawicel.FromSocketCAN(f)
		if err != nil {
			log.WithError(err).Debug("not forwarded")
			return
		}
		select {
		case dev.Send() <- msg:
		case <-gctx.Done():
		}
	})

	g.Go(func() error {
		return bus.ConnectAndPublish()
	})
	g.Go(func() error {
		<-gctx.Done()
		return bus.Disconnect()
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-dev.Err():
				return err
			case evt := <-dev.Event():
				logEvent(evt)
			case msg := <-dev.Recv():
				f, err := lawicel.ToSocketCAN(msg)
				if err != nil {
					log.WithError(err).Warn("not forwarded")
					continue
				}
				if err := bus.Publish(f); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}
