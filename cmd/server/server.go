package server

import (
	"context"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/config"
	"github.com/kashguard/go-consensus-infra/internal/consensus/crypto"
	consensusmgr "github.com/kashguard/go-consensus-infra/internal/consensus/manager"
	"github.com/kashguard/go-consensus-infra/internal/consensus/protocol"
	"github.com/kashguard/go-consensus-infra/internal/consensus/storage"
	"github.com/kashguard/go-consensus-infra/internal/recovery/audit"
	"github.com/kashguard/go-consensus-infra/internal/recovery/compensator"
	"github.com/kashguard/go-consensus-infra/internal/recovery/executor"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	recoverymgr "github.com/kashguard/go-consensus-infra/internal/recovery/manager"
	"github.com/kashguard/go-consensus-infra/internal/recovery/verifier"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Runs the consensus engine with the recovery orchestrator",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				log.Fatal().Err(err).Msg("Server failed")
			}
		},
	}
}

func run() error {
	cfg := config.DefaultServiceConfigFromEnv()
	clock := time2.DefaultClock

	consensus, err := buildConsensus(cfg, clock)
	if err != nil {
		return err
	}
	recovery := buildRecovery(cfg, consensus, clock)

	log.Info().
		Str("protocol", cfg.Consensus.ProtocolType).
		Int("quorum_size", cfg.Consensus.QuorumSize).
		Strs("recovery_types", cfg.Recovery.RecoveryTypes).
		Msg("Server started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Consensus.NodeTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Server stopped")
			return nil
		case <-ticker.C:
			sweep(ctx, recovery)
		}
	}
}

// sweep runs one detection pass and recovers every finding.
func sweep(ctx context.Context, recovery *recoverymgr.Manager) {
	failures, err := recovery.DetectFailures(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failure detection failed")
		return
	}

	for _, f := range failures {
		plan, verified, err := recovery.PerformRecovery(ctx, f)
		if err != nil {
			log.Error().
				Err(err).
				Str("failure_id", f.FailureID).
				Msg("Recovery failed")
			continue
		}
		log.Info().
			Str("plan_id", plan.PlanID).
			Bool("verified", verified).
			Msg("Recovery finished")
	}
}

func buildConsensus(cfg config.Server, clock time2.Clock) (*consensusmgr.Manager, error) {
	protocols := protocol.NewRegistry()
	protocols.Register(protocol.TypePBFT, protocol.NewPBFT(cfg.Consensus.QuorumSize, clock))
	protocols.Register(protocol.TypeRaft, protocol.NewRaft(cfg.Consensus.QuorumSize, clock))

	proto, err := protocols.Get(cfg.Consensus.ProtocolType)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select consensus protocol")
	}

	var decisions storage.DecisionRegistry
	if cfg.Consensus.RedisEndpoint != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Consensus.RedisEndpoint})
		decisions = storage.NewRedisRegistry(client)
		log.Info().Str("endpoint", cfg.Consensus.RedisEndpoint).Msg("Using Redis decision registry")
	} else {
		decisions = storage.NewInMemoryRegistry()
	}

	return consensusmgr.NewManager(cfg.Consensus, proto, decisions, crypto.NewSecp256k1Verifier(), clock), nil
}

func buildRecovery(cfg config.Server, consensus *consensusmgr.Manager, clock time2.Clock) *recoverymgr.Manager {
	consensusSource := func() failure.ConsensusSnapshot {
		snapshot := failure.ConsensusSnapshot{
			ByzantineNodes: consensus.DetectByzantineBehavior(),
		}
		for _, p := range consensus.PendingProposals() {
			snapshot.PendingProposals = append(snapshot.PendingProposals, failure.PendingProposal{
				ProposalID: p.ProposalID,
				DecisionID: p.DecisionID,
				CreatedAt:  p.CreatedAt,
			})
		}
		return snapshot
	}
	trustSource := func() map[string]float64 { return consensus.TrustScores() }
	// policy violations are fed by an external governance service;
	// without one the detector sees none
	governanceSource := func() []failure.PolicyViolation { return nil }
	systemSource := systemMetrics
	thresholds := failure.DefaultSystemThresholds()

	detectors := []failure.Detector{
		failure.NewConsensusDetector(consensusSource, cfg.Consensus.NodeTimeout, clock),
		failure.NewTrustDetector(trustSource, cfg.Consensus.MinTrustScore, clock),
		failure.NewGovernanceDetector(governanceSource, clock),
		failure.NewSystemDetector(systemSource, thresholds, clock),
	}

	executors := executor.NewRegistry()
	executors.Register(executor.NewConsensusExecutor(consensus, func(err error) bool {
		return errors.Is(err, consensusmgr.ErrQuorumNotReached)
	}))
	executors.Register(executor.NewTrustExecutor(consensus))
	executors.Register(executor.NewGovernanceExecutor(executor.LoggingPolicyControl{}))
	executors.Register(executor.NewSystemExecutor(executor.LoggingSystemControl{}))

	verifiers := verifier.NewRegistry()
	verifiers.Register(verifier.NewConsensusVerifier(consensusSource))
	verifiers.Register(verifier.NewTrustVerifier(trustSource, cfg.Consensus.MinTrustScore))
	verifiers.Register(verifier.NewGovernanceVerifier(governanceSource))
	verifiers.Register(verifier.NewSystemVerifier(systemSource, thresholds))

	auditLog := audit.NewLogger(cfg.Audit, clock)
	comp := compensator.NewCompensator(nil, clock)

	return recoverymgr.NewManager(cfg.Recovery, executors, verifiers, comp, auditLog, detectors, clock)
}

// systemMetrics samples process memory pressure. CPU and disk stay
// zero until a host agent feeds real numbers.
func systemMetrics() failure.ResourceMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var memPercent float64
	if m.Sys > 0 {
		memPercent = float64(m.HeapAlloc) / float64(m.Sys) * 100
	}
	return failure.ResourceMetrics{MemoryPercent: memPercent}
}
