package client

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"

	"github.com/cqlwire/cqlwire/pkg/frame"
)

// Config for a Client.
type Config struct {
	Address     string
	Port        int
	Version     int
	CQLVersion  string
	Consistency string
	Username    string
	Password    flagext.Secret
	Timeout     time.Duration
	Compression bool
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Address, "cql.address", "127.0.0.1", "Hostname or ip of the Cassandra instance.")
	f.IntVar(&cfg.Port, "cql.port", 9042, "Port that Cassandra is running on.")
	f.IntVar(&cfg.Version, "cql.protocol-version", 1, "Native protocol version to speak (1 or 2).")
	f.StringVar(&cfg.CQLVersion, "cql.cql-version", "3.0.5", "CQL version advertised during STARTUP.")
	f.StringVar(&cfg.Consistency, "cql.consistency", "ONE", "Default consistency level for queries.")
	f.StringVar(&cfg.Username, "cql.username", "", "Username to use when connecting to Cassandra.")
	f.Var(&cfg.Password, "cql.password", "Password to use when connecting to Cassandra.")
	f.DurationVar(&cfg.Timeout, "cql.timeout", 2*time.Second, "Timeout for individual requests.")
	f.BoolVar(&cfg.Compression, "cql.compression", false, "Compress frame bodies with snappy.")
}

// DefaultConsistency resolves the configured consistency level.
func (cfg *Config) DefaultConsistency() (frame.Consistency, error) {
	return frame.ParseConsistency(cfg.Consistency)
}
