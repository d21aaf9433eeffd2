package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/patchtrack/config"
	"github.com/dhcgn/patchtrack/filter"
	"github.com/dhcgn/patchtrack/mbox"
	"github.com/dhcgn/patchtrack/model"
)

var (
	decodeFormat string
	decodeAsMbox bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [message file]",
	Short: "Decode a raw mail message (or every message of an mbox) and print it",
	Long: `Decode a raw RFC 5322 message read from a file, or from stdin when the
argument is "-" or missing. With --as-mbox the input is split into messages
first and the filter flags select which of them are printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		input, closeFn, err := openInput(args)
		if err != nil {
			return err
		}
		defer closeFn()

		out := cmd.OutOrStdout()
		if !decodeAsMbox {
			raw, err := io.ReadAll(input)
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}
			return writeMessages(out, decodeFormat, []model.Message{mbox.Decode(raw)}, true)
		}

		f, err := filter.New(filter.Options{
			IncludeHeader: cfg.IncludeHeader,
			IncludeBody:   cfg.IncludeBody,
			ExcludeHeader: cfg.ExcludeHeader,
			ExcludeBody:   cfg.ExcludeBody,
		})
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}

		var msgs []model.Message
		err = mbox.ReadFrom(input, func(msg model.Message) error {
			if f.AllowsMessage(msg) {
				msgs = append(msgs, msg)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("read mbox: %w", err)
		}
		return writeMessages(out, decodeFormat, msgs, false)
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "json", "Output format: json, markdown or html")
	decodeCmd.Flags().BoolVar(&decodeAsMbox, "as-mbox", false, "Treat the input as an mbox archive")
	config.RegisterFilterFlags(decodeCmd)
	rootCmd.AddCommand(decodeCmd)
}

func openInput(args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// writeMessages prints msgs in format. JSON output is a single object when
// single is set and an array otherwise.
func writeMessages(w io.Writer, format string, msgs []model.Message, single bool) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if single && len(msgs) == 1 {
			return enc.Encode(msgs[0])
		}
		if msgs == nil {
			msgs = []model.Message{}
		}
		return enc.Encode(msgs)
	case "markdown", "md":
		for i, msg := range msgs {
			if i > 0 {
				fmt.Fprintln(w, "\n---")
			}
			fmt.Fprint(w, mbox.Markdown(msg))
		}
		return nil
	case "html":
		for _, msg := range msgs {
			out, err := mbox.HTML(msg)
			if err != nil {
				return err
			}
			fmt.Fprint(w, out)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
