package cmd

import (
	"fmt"

	"github.com/roffe/lawicel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list adapters and attached devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Println("Adapters:")
		for _, info := range lawicel.ListAdapters() {
			fmt.Printf("  %s\n", info.String())
		}
		devices, err := lawicel.ListDevices()
		if err != nil {
			log.WithError(err).Warn("device scan incomplete")
		}
		fmt.Println("Devices:")
		if len(devices) == 0 {
			fmt.Println("  none found")
		}
		for _, d := range devices {
			fmt.Printf("  %s\n", d.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
