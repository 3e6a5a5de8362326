package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roffe/lawicel"
	"github.com/roffe/lawicel/pkg/bar"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "decode a raw LAWICEL capture",
	Long:  `decode frames from a byte capture of an adapter, - reads stdin`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ceiling, _ := cmd.Flags().GetInt(flagCeiling)
		noColor, _ := cmd.Flags().GetBool("no-color")
		quiet, _ := cmd.Flags().GetBool("quiet")

		var r io.Reader = os.Stdin
		var size int64 = -1
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if st, err := f.Stat(); err == nil {
				size = st.Size()
			}
			r = f
		}

		out := func(msg *lawicel.Message) {
			if quiet {
				return
			}
			if noColor {
				fmt.Println(msg.String())
			} else {
				fmt.Println(msg.ColorString())
			}
		}
		stats, err := decodeStream(r, size, ceiling, out)
		if err != nil {
			return err
		}
		log.Info(stats.String())
		return nil
	},
}

// decodeStream feeds r through a Reassembler and hands every frame to out.
func decodeStream(r io.Reader, size int64, ceiling int, out func(*lawicel.Message)) (lawicel.Stats, error) {
	reasm := lawicel.NewReassembler(
		lawicel.WithCeiling(ceiling),
		lawicel.WithDiscardFunc(func(reason error, b []byte) {
			log.WithError(reason).Debugf("discarded %q", b)
		}),
	)
	if size > 0 {
		pb := bar.New(size, "decoding")
		defer pb.Finish()
		r = io.TeeReader(r, pb)
	}
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for _, msg := range reasm.Feed(buf[:n]) {
			out(msg)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return reasm.Stats(), nil
			}
			return reasm.Stats(), err
		}
	}
}

func init() {
	decodeCmd.Flags().Bool("no-color", false, "disable colored output")
	decodeCmd.Flags().BoolP("quiet", "q", false, "only print statistics")
	rootCmd.AddCommand(decodeCmd)
}
