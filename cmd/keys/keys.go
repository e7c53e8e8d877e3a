package keys

import (
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/kashguard/go-consensus-infra/internal/consensus/vote"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Node keypair tooling",
	}

	cmd.AddCommand(newGenCmd(), newSignCmd())
	return cmd
}

// keys gen prints a fresh secp256k1 keypair for node registration.
func newGenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen",
		Short: "Generate a secp256k1 node keypair",
		Run: func(_ *cobra.Command, _ []string) {
			priv, err := ethcrypto.GenerateKey()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to generate keypair")
			}

			pub := ethcrypto.CompressPubkey(&priv.PublicKey)
			fmt.Printf("private_key: %s\n", hex.EncodeToString(ethcrypto.FromECDSA(priv)))
			fmt.Printf("public_key:  %s\n", hex.EncodeToString(pub))
		},
	}
}

// keys sign produces a vote signature for manual testing against a
// running engine.
func newSignCmd() *cobra.Command {
	var (
		privHex    string
		nodeID     string
		proposalID string
		value      bool
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a vote payload with a node private key",
		Run: func(_ *cobra.Command, _ []string) {
			raw, err := hex.DecodeString(privHex)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid private key hex")
			}
			priv, err := ethcrypto.ToECDSA(raw)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid private key")
			}

			payload := vote.SignaturePayload(nodeID, proposalID, value)
			sig, err := ethcrypto.Sign(ethcrypto.Keccak256(payload), priv)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to sign vote payload")
			}

			fmt.Printf("signature: %s\n", hex.EncodeToString(sig))
		},
	}

	cmd.Flags().StringVar(&privHex, "key", "", "Node private key (hex)")
	cmd.Flags().StringVar(&nodeID, "node", "", "Node id")
	cmd.Flags().StringVar(&proposalID, "proposal", "", "Proposal id")
	cmd.Flags().BoolVar(&value, "value", true, "Vote value")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("proposal")

	return cmd
}
