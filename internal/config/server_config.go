package config

import (
	"time"

	"github.com/kashguard/go-consensus-infra/internal/util"
)

// ModuleName is used in CLI help and build metadata.
const ModuleName = "go-consensus-infra"

// Consensus holds the consensus engine configuration.
type Consensus struct {
	QuorumSize           int
	ProtocolType         string // pbft, raft
	NodeTimeout          time.Duration
	MinTrustScore        float64
	RequiredCapabilities []string
	VoteFlipThreshold    int
	MaxVoteAge           time.Duration
	RequireSignatures    bool
	RedisEndpoint        string // empty means in-memory decision registry
}

// Recovery holds the recovery orchestrator configuration.
type Recovery struct {
	MaxRetries          int
	RecoveryTypes       []string
	MaxRecoveryTime     time.Duration
	VerificationTimeout time.Duration
}

// Audit holds the audit trail configuration.
type Audit struct {
	Level           string // detailed, summary
	LogDirectory    string
	RetentionPeriod time.Duration
}

// Server is the top-level immutable service configuration.
// It is constructed exactly once at startup; partial overrides are
// expressed by building a new struct, never by mutating this one.
type Server struct {
	Consensus Consensus
	Recovery  Recovery
	Audit     Audit
}

// DefaultServiceConfigFromEnv returns the service config, with defaults
// applied for every value that is not set through ENV.
func DefaultServiceConfigFromEnv() Server {
	return Server{
		Consensus: Consensus{
			QuorumSize:           util.GetEnvAsInt("CONSENSUS_QUORUM_SIZE", 3),
			ProtocolType:         util.GetEnv("CONSENSUS_PROTOCOL_TYPE", "pbft"),
			NodeTimeout:          time.Duration(util.GetEnvAsInt("CONSENSUS_NODE_TIMEOUT_SEC", 30)) * time.Second,
			MinTrustScore:        util.GetEnvAsFloat64("CONSENSUS_MIN_TRUST_SCORE", 0.5),
			RequiredCapabilities: util.GetEnvAsStringArr("CONSENSUS_REQUIRED_CAPABILITIES", []string{"voting"}),
			VoteFlipThreshold:    util.GetEnvAsInt("CONSENSUS_VOTE_FLIP_THRESHOLD", 3),
			MaxVoteAge:           time.Duration(util.GetEnvAsInt("CONSENSUS_MAX_VOTE_AGE_SEC", 3600)) * time.Second,
			RequireSignatures:    util.GetEnvAsBool("CONSENSUS_REQUIRE_SIGNATURES", false),
			RedisEndpoint:        util.GetEnv("CONSENSUS_REDIS_ENDPOINT", ""),
		},
		Recovery: Recovery{
			MaxRetries:          util.GetEnvAsInt("RECOVERY_MAX_RETRIES", 3),
			RecoveryTypes:       util.GetEnvAsStringArr("RECOVERY_TYPES", []string{"consensus", "trust", "governance", "system"}),
			MaxRecoveryTime:     time.Duration(util.GetEnvAsInt("RECOVERY_MAX_RECOVERY_TIME_SEC", 300)) * time.Second,
			VerificationTimeout: time.Duration(util.GetEnvAsInt("RECOVERY_VERIFICATION_TIMEOUT_SEC", 60)) * time.Second,
		},
		Audit: Audit{
			Level:           util.GetEnv("AUDIT_LEVEL", "detailed"),
			LogDirectory:    util.GetEnv("AUDIT_LOG_DIRECTORY", "/var/log/recovery"),
			RetentionPeriod: time.Duration(util.GetEnvAsInt("AUDIT_RETENTION_DAYS", 90)) * 24 * time.Hour,
		},
	}
}
