package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roffe/lawicel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <id> [data]",
	Short: "send one CAN frame",
	Long:  `send a frame, id is hex (0x optional) and data is up to 8 hex bytes, e.g. send 7E0 0201`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rtr, _ := cmd.Flags().GetBool("rtr")
		count, _ := cmd.Flags().GetInt("count")
		interval, _ := cmd.Flags().GetDuration("interval")

		msg, err := parseFrameArgs(args, rtr)
		if err != nil {
			return err
		}

		dev, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx := cmd.Context()
		for i := 0; i < count; i++ {
			select {
			case dev.Send() <- msg:
				log.Debugf("sent %s", msg.String())
			case err := <-dev.Err():
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
			if i < count-1 {
				time.Sleep(interval)
			}
		}
		// let the send manager flush before the channel is closed
		time.Sleep(50 * time.Millisecond)
		return nil
	},
}

func parseFrameArgs(args []string, rtr bool) (*lawicel.Message, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(args[0]), "0x"), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	var msg *lawicel.Message
	if rtr {
		length := 0
		if len(args) == 2 {
			if length, err = strconv.Atoi(args[1]); err != nil {
				return nil, fmt.Errorf("invalid rtr length %q: %w", args[1], err)
			}
		}
		if length < 0 || length > lawicel.MaxDataLength {
			return nil, fmt.Errorf("%w: %d", lawicel.ErrInvalidLength, length)
		}
		msg = lawicel.NewRemoteRequest(uint32(id), uint8(length))
	} else {
		var data []byte
		if len(args) == 2 {
			if data, err = hex.DecodeString(strings.ReplaceAll(args[1], " ", "")); err != nil {
				return nil, fmt.Errorf("invalid data %q: %w", args[1], err)
			}
		}
		if len(data) > lawicel.MaxDataLength {
			return nil, fmt.Errorf("%w: %d", lawicel.ErrInvalidLength, len(data))
		}
		msg = lawicel.NewMessage(uint32(id), data)
	}
	return msg, msg.Validate()
}

func init() {
	sendCmd.Flags().Bool("rtr", false, "send a remote request, second argument is the length")
	sendCmd.Flags().IntP("count", "n", 1, "number of times to send the frame")
	sendCmd.Flags().Duration("interval", 100*time.Millisecond, "delay between repeated frames")
	rootCmd.AddCommand(sendCmd)
}
