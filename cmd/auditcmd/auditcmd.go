package auditcmd

import (
	"bytes"
	"encoding/hex"
	"os"
	"time"

	"github.com/dropbox/godropbox/time2"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/kashguard/go-consensus-infra/internal/config"
	"github.com/kashguard/go-consensus-infra/internal/recovery/audit"
	"github.com/kashguard/go-consensus-infra/pkg/sealed"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Recovery audit trail tooling",
	}

	cmd.AddCommand(newReportCmd(), newOpenCmd(), newCleanupCmd())
	return cmd
}

// audit open decrypts a sealed report with the auditor private key.
func newOpenCmd() *cobra.Command {
	var (
		keyHex string
		inPath string
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Decrypt a sealed audit report",
		Run: func(_ *cobra.Command, _ []string) {
			raw, err := hex.DecodeString(keyHex)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid --key, expected hex private key")
			}
			priv, err := ethcrypto.ToECDSA(raw)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid auditor private key")
			}

			data, err := os.ReadFile(inPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to read sealed report")
			}
			report, err := sealed.Open(data, priv)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to open sealed report")
			}
			if _, err := os.Stdout.Write(report); err != nil {
				log.Fatal().Err(err).Msg("Failed to write report")
			}
		},
	}

	cmd.Flags().StringVar(&keyHex, "key", "", "Auditor private key (hex)")
	cmd.Flags().StringVar(&inPath, "in", "", "Sealed report file")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func newLogger() *audit.Logger {
	cfg := config.DefaultServiceConfigFromEnv()
	return audit.NewLogger(cfg.Audit, time2.DefaultClock)
}

// audit report writes the compliance report for a time window to
// stdout.
func newReportCmd() *cobra.Command {
	var (
		startStr string
		endStr   string
		planID   string
		sealTo   string
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a JSON audit report",
		Run: func(_ *cobra.Command, _ []string) {
			start, err := time.Parse(time.RFC3339, startStr)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid --start, expected RFC3339")
			}
			end, err := time.Parse(time.RFC3339, endStr)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid --end, expected RFC3339")
			}

			if sealTo == "" {
				if err := newLogger().GenerateAuditReport(os.Stdout, start, end, planID); err != nil {
					log.Fatal().Err(err).Msg("Failed to generate audit report")
				}
				return
			}

			// sealed export for an external auditor
			if outPath == "" {
				log.Fatal().Msg("--out is required with --seal-to")
			}
			pubBytes, err := hex.DecodeString(sealTo)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid --seal-to, expected hex public key")
			}
			pub, err := ethcrypto.DecompressPubkey(pubBytes)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid auditor public key")
			}

			var buf bytes.Buffer
			if err := newLogger().GenerateAuditReport(&buf, start, end, planID); err != nil {
				log.Fatal().Err(err).Msg("Failed to generate audit report")
			}
			data, err := sealed.Seal(buf.Bytes(), pub)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to seal audit report")
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				log.Fatal().Err(err).Msg("Failed to write sealed report")
			}
			log.Info().Str("path", outPath).Msg("Sealed audit report written")
		},
	}

	cmd.Flags().StringVar(&startStr, "start", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&endStr, "end", "", "Window end (RFC3339)")
	cmd.Flags().StringVar(&planID, "plan", "", "Restrict to one plan id")
	cmd.Flags().StringVar(&sealTo, "seal-to", "", "Encrypt the report to this compressed secp256k1 public key (hex)")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file for the sealed report")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

// audit cleanup removes segments older than the retention period.
func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit segments past the retention period",
		Run: func(_ *cobra.Command, _ []string) {
			removed, err := newLogger().CleanupOldLogs()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to clean up audit segments")
			}
			log.Info().Int("segments", removed).Msg("Cleanup finished")
		},
	}
}
