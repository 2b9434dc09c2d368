// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tnachen/bVisor-sub000/cfg"
	"github.com/tnachen/bVisor-sub000/internal/dispatch"
	"github.com/tnachen/bVisor-sub000/internal/handlers"
	"github.com/tnachen/bVisor-sub000/internal/logger"
	"github.com/tnachen/bVisor-sub000/internal/router"
	"github.com/tnachen/bVisor-sub000/internal/supervisor"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	config        cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "bvisor [flags] -- command [args...]",
	Short: "Run a program inside a seccomp-notify sandbox supervisor",
	Long: `bvisor intercepts a sandboxed program's filesystem and process
syscalls via seccomp user notification, routing each path through a fixed
policy onto a passthrough, copy-on-write, tmp, or synthesized proc backend.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&config); err != nil {
			return err
		}
		return run(cmd.Context())
	},
}

func run(ctx context.Context) error {
	if err := logger.InitLogFile(config.Log); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ch := &noopChannel{}

	s := supervisor.New(supervisor.Config{
		OverlayRoot: config.OverlayRoot,
		Policy: router.Policy{
			BlockedPrefixes:     config.Policy.BlockedPrefixes,
			PassthroughPrefixes: config.Policy.PassthroughPrefixes,
			ProcPrefix:          config.Policy.ProcPrefix,
			TmpPrefix:           config.Policy.TmpPrefix,
		},
		Channel: ch,
		Log:     logger.Default(),
		MaxFds:  config.Limits.MaxFds,
	})

	d := dispatch.New(s, handlers.RegisterDefault())

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return d.Loop(ctx, ch, runtime.NumCPU())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&config, viper.DecodeHook(cfg.DecodeHook()))
		return
	}

	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&config, viper.DecodeHook(cfg.DecodeHook()))
}
