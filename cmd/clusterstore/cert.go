package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clustertls "github.com/dd0wney/cluso-clusterstore/pkg/tls"
)

func newCertCmd() *cobra.Command {
	var (
		certFile string
		keyFile  string
		hosts    []string
		validFor time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Write a self-signed certificate for the admin API",
		Long: `Write a self-signed certificate and key for http.tls.cert_file and key_file.

Examples:
  clusterstore cert --host clusterstore.internal --host 10.0.0.7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := clustertls.DefaultConfig()
			cfg.Hosts = hosts
			cfg.ValidFor = validFor
			if err := clustertls.GenerateAndSaveCertificate(cfg, certFile, keyFile); err != nil {
				return err
			}

			info, err := clustertls.GetCertificateInfo(certFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s (expires %s)\n",
				certFile, keyFile, info.NotAfter.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&certFile, "cert", "clusterstore.crt", "Certificate output path")
	cmd.Flags().StringVar(&keyFile, "key", "clusterstore.key", "Private key output path")
	cmd.Flags().StringSliceVar(&hosts, "host", clustertls.DefaultConfig().Hosts, "DNS name or IP the certificate covers")
	cmd.Flags().DurationVar(&validFor, "valid-for", clustertls.DefaultConfig().ValidFor, "Certificate lifetime")
	return cmd
}
