package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/logger"
)

// options 全局参数
type options struct {
	configPath string
	device     string
	baud       int
	mock       bool
	output     string
	timeout    time.Duration

	// 测试时注入模拟设备
	sim *hardware.Simulator
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sdm3000ctl",
		Short:        "SDM-3000 出钞机命令行工具",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case "text", "yaml":
			default:
				return fmt.Errorf("unsupported output %q, want text or yaml", opts.output)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "配置文件路径，读取串口参数")
	flags.StringVarP(&opts.device, "device", "d", "", "串口设备，默认取配置中的 serial.port")
	flags.IntVarP(&opts.baud, "baud", "b", hardware.DefaultBaudRate, "波特率")
	flags.BoolVar(&opts.mock, "mock", false, "使用内置模拟设备")
	flags.StringVarP(&opts.output, "output", "o", "text", "输出格式: text|yaml")
	flags.DurationVar(&opts.timeout, "timeout", hardware.DefaultOperationTimeout, "单个操作超时")

	cmd.AddCommand(
		portsCmd(opts),
		statusCmd(opts),
		payloadCmd(opts, "diagnostics", "读取诊断信息", (*hardware.Device).Diagnostics),
		payloadCmd(opts, "last-status", "读取最后状态", (*hardware.Device).LastStatus),
		resetCmd(opts),
		dispenseCmd(opts),
		hashKeyCmd(),
	)
	return cmd
}

// openDevice 按参数创建控制器并连接
func (o *options) openDevice() (*hardware.Device, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.mock {
		cfg.Serial.MockMode = true
	}

	// CLI 只输出到标准错误，避免和结果混在一起
	cfg.Log.Output = "stderr"
	if err := logger.Init(&cfg.Log); err != nil {
		return nil, nil, err
	}

	ctrlOpts, err := hardware.OptionsFrom(&cfg.Serial)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Serial.MockMode {
		sim := o.sim
		if sim == nil {
			sim = hardware.NewSimulator()
		}
		ctrlOpts.Opener = sim.Opener()
	}

	dev := hardware.NewDevice(hardware.NewController(ctrlOpts))
	dev.SetTimeout(o.timeout)

	path := o.device
	if path == "" {
		path = cfg.Serial.Port
	}
	if !dev.Connect(path, o.baud) {
		return nil, nil, fmt.Errorf("connect %s: %w", path, dev.LastError())
	}
	return dev, func() { dev.Disconnect() }, nil
}

// render 按输出格式打印结果
func (o *options) render(w io.Writer, v interface{}, text func(io.Writer)) error {
	if o.output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	text(w)
	return nil
}
