package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/protocol"
	"github.com/wfunc/sdm3000/internal/utils"
)

// payloadResult 设备返回的数据
type payloadResult struct {
	Command string `yaml:"command"`
	Device  string `yaml:"device"`
	Hex     string `yaml:"hex"`
	Length  int    `yaml:"length"`
}

func portsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "列出本机串口",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := hardware.ListPorts()
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), map[string][]string{"ports": ports}, func(w io.Writer) {
				if len(ports) == 0 {
					fmt.Fprintln(w, "(未发现串口)")
					return
				}
				for _, p := range ports {
					fmt.Fprintln(w, p)
				}
			})
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return payloadCmd(opts, "status", "读取设备状态", (*hardware.Device).ReadStatus)
}

func payloadCmd(opts *options, use, short string, read func(*hardware.Device) []byte) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, closeFn, err := opts.openDevice()
			if err != nil {
				return err
			}
			defer closeFn()

			data := read(dev)
			if data == nil {
				return fmt.Errorf("%s: %w", use, dev.LastError())
			}

			res := payloadResult{
				Command: use,
				Device:  dev.Controller().DevicePath(),
				Hex:     fmt.Sprintf("% X", data),
				Length:  len(data),
			}
			return opts.render(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%d bytes): %s\n", res.Command, res.Length, res.Hex)
			})
		},
	}
}

func resetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "重置设备",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, closeFn, err := opts.openDevice()
			if err != nil {
				return err
			}
			defer closeFn()

			if !dev.Reset() {
				return fmt.Errorf("reset: %w", dev.LastError())
			}
			return opts.render(cmd.OutOrStdout(), map[string]bool{"reset": true}, func(w io.Writer) {
				fmt.Fprintln(w, "reset ok")
			})
		},
	}
}

func dispenseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dispense c1 c2 c3 c4 c5 c6 c7 c8",
		Short: "多钞箱出钞，参数依次为 1 到 8 号钞箱张数",
		Args:  cobra.ExactArgs(protocol.CassetteCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := parseCounts(args)
			if err != nil {
				return err
			}

			dev, closeFn, err := opts.openDevice()
			if err != nil {
				return err
			}
			defer closeFn()

			if !dev.MultiDispense(counts) {
				return fmt.Errorf("dispense: %w", dev.LastError())
			}

			total := 0
			ints := make([]int, len(counts))
			for i, c := range counts {
				ints[i] = int(c)
				total += int(c)
			}
			return opts.render(cmd.OutOrStdout(), map[string]interface{}{"counts": ints, "total": total}, func(w io.Writer) {
				fmt.Fprintf(w, "dispensed %v, total %d\n", ints, total)
			})
		},
	}
}

// parseCounts 每个钞箱张数必须在 0-255
func parseCounts(args []string) ([]byte, error) {
	counts := make([]byte, len(args))
	for i, a := range args {
		n, err := strconv.ParseUint(a, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("cassette %d: invalid count %q", i+1, a)
		}
		counts[i] = byte(n)
	}
	return counts, nil
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "生成操作员密钥的 argon2id 哈希，填入 security.operator_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
