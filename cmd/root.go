/*
 * EasyProxy is a reverse proxy for HLS and MPEG-DASH streams with
 * URL extraction and ClearKey support.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucasduport/easyproxy/pkg/config"
	"github.com/lucasduport/easyproxy/pkg/server"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "easyproxy",
	Short: "Reverse proxy for HLS and MPEG-DASH streams",
	Long: `EasyProxy relays HLS and MPEG-DASH streams and rewrites their
manifests so every URL routes back through the proxy.

It supports:
- Channel URL resolution through site-specific extractors
- MPEG-DASH to HLS live conversion
- ClearKey license serving and server-side CENC decryption
- M3U playlist building from multiple sources
- Upstream SOCKS5 and HTTP proxies per extractor pool`,

	Run: func(cmd *cobra.Command, args []string) {
		log.Printf("[easyproxy] Server is starting...")

		conf := &config.ProxyConfig{
			HostConfig: &config.HostConfiguration{
				Hostname: viper.GetString("hostname"),
				Port:     viper.GetInt64("port"),
			},
			APIPassword:   config.CredentialString(viper.GetString("api-password")),
			CacheFolder:   config.PathString(viper.GetString("cache-folder")),
			GlobalProxies: config.ParseProxyList(viper.GetString("global-proxy")),
			VavooProxies:  config.ParseProxyList(viper.GetString("vavoo-proxy")),
			DLHDProxies:   config.ParseProxyList(viper.GetString("dlhd-proxy")),
		}
		conf.FromEnv()

		srv, err := server.NewServer(conf)
		if err != nil {
			log.Fatal(err)
		}

		if err := srv.Serve(); err != nil {
			log.Fatal(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.easyproxy.yaml)")

	rootCmd.Flags().Int("port", 7860, "Listening port")
	rootCmd.Flags().String("hostname", "0.0.0.0", "Listen address")
	rootCmd.Flags().String("api-password", "", "Password required on every endpoint (empty disables auth)")
	rootCmd.Flags().String("cache-folder", "", "Folder for extractor caches (defaults to the working directory)")
	rootCmd.Flags().String("global-proxy", "", "Comma separated upstream proxies for all requests")
	rootCmd.Flags().String("vavoo-proxy", "", "Comma separated upstream proxies for Vavoo requests")
	rootCmd.Flags().String("dlhd-proxy", "", "Comma separated upstream proxies for DLHD requests")

	// Bind all flags to viper
	if err := viper.BindPFlags(rootCmd.Flags()); err != nil {
		log.Fatal("Error binding PFlags to viper")
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory and current directory
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".easyproxy")
	}

	// Replace hyphens with underscores in environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Read environment variables
	viper.AutomaticEnv()

	// Read in config file if found
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
