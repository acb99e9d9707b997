// Command ddsauth-cli drives the PKI-DH authentication plugin from the
// command line: loading and validating a participant's identity
// material, printing its identity token, and writing a default config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shadowmesh/ddsauth/pkg/config"
	"github.com/shadowmesh/ddsauth/pkg/identity"
	"github.com/shadowmesh/ddsauth/pkg/logging"
	"github.com/shadowmesh/ddsauth/pkg/plugin"
)

const version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "ddsauth-cli",
		Short:        "DDS-Security PKI-DH authentication plugin CLI",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "ddsauth.yaml", "path to the YAML configuration file")

	root.AddCommand(newValidateLocalCmd())
	root.AddCommand(newIdentityTokenCmd())
	root.AddCommand(newGenerateConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *logging.Logger {
	logger, err := logging.NewLogger("ddsauth-cli", logging.ParseLevel(cfg.Level), cfg.OutputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to create logger: %v\n", err)
		return nil
	}
	logger.SetMaxFileSize(int64(cfg.MaxSizeMB) * 1024 * 1024)
	logger.SetMaxBackups(cfg.MaxBackups)
	return logger
}

func newValidateLocalCmd() *cobra.Command {
	var candidatePrefix byte
	cmd := &cobra.Command{
		Use:   "validate-local",
		Short: "Load and validate this participant's identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			p := plugin.New(newLogger(cfg.Logging), nil)
			candidate := identity.GUID{}
			candidate.Prefix[0] = candidatePrefix

			handle, adjusted, err := p.ValidateLocalIdentity(cfg.Identity.QoSProperties(), cfg.Identity.DomainID, candidate)
			if err != nil {
				return fmt.Errorf("validate-local-identity: %w", err)
			}

			fmt.Printf("local identity handle: %d\n", handle)
			fmt.Printf("adjusted GUID prefix:  % x\n", adjusted.Prefix)
			return nil
		},
	}
	cmd.Flags().Uint8Var(&candidatePrefix, "candidate-prefix", 0, "first byte of the candidate GUID prefix")
	return cmd
}

func newIdentityTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity-token",
		Short: "Validate this participant's identity and print its identity token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			p := plugin.New(newLogger(cfg.Logging), nil)
			handle, _, err := p.ValidateLocalIdentity(cfg.Identity.QoSProperties(), cfg.Identity.DomainID, identity.GUID{})
			if err != nil {
				return fmt.Errorf("validate-local-identity: %w", err)
			}

			tok, err := p.GetIdentityToken(handle)
			if err != nil {
				return fmt.Errorf("get-identity-token: %w", err)
			}

			fmt.Printf("class id:  %s\n", tok.ClassID)
			fmt.Printf("cert sn:   %s\n", tok.CertSN)
			fmt.Printf("cert algo: %s\n", tok.CertAlgo)
			fmt.Printf("ca sn:     %s\n", tok.CASN)
			fmt.Printf("ca algo:   %s\n", tok.CAAlgo)
			return nil
		},
	}
	return cmd
}

func newGenerateConfigCmd() *cobra.Command {
	var domainID uint32
	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GenerateDefaultConfig(domainID)
			if err := config.WriteConfigFile(cfg, configPath); err != nil {
				return err
			}
			fmt.Printf("wrote default configuration to %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&domainID, "domain-id", 0, "DDS domain id")
	return cmd
}
