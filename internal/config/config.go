// ABOUTME: Runtime configuration for the participant and relay binaries
// ABOUTME: Command-line flags with WARPSONG_* environment variables as defaults
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warpsong/warpsong-go/internal/buffercache"
	"github.com/warpsong/warpsong-go/internal/engine"
)

// DefaultRelayPort is the port the reference relay listens on
const DefaultRelayPort = 8927

// Participant configures one participant process
type Participant struct {
	APIURL        string
	RelayURL      string
	Token         string
	ParticipantID string

	// SessionCode joins an existing session; Create opens a new one
	SessionCode string
	Create      bool

	SampleRate   int
	StartLatency time.Duration
	LoadTimeout  time.Duration
	FetchTimeout time.Duration

	LogFile  string
	NoTUI    bool
	Discover time.Duration
}

// Relay configures the reference relay
type Relay struct {
	Port       int
	Name       string
	Catalog    string
	StemsDir   string
	EnableMDNS bool
	LogFile    string
}

// LoadParticipant parses participant flags. Flags override environment variables.
func LoadParticipant(args []string) (Participant, error) {
	var c Participant
	fs := flag.NewFlagSet("warpsong", flag.ContinueOnError)

	fs.StringVar(&c.APIURL, "api", envStr("WARPSONG_API_URL", ""), "Collaborator API base URL (empty: discover a relay via mDNS)")
	fs.StringVar(&c.RelayURL, "relay", envStr("WARPSONG_RELAY_URL", ""), "Real-time channel base URL (default: same as -api)")
	fs.StringVar(&c.Token, "token", envStr("WARPSONG_TOKEN", ""), "Bearer token for API and stem requests")
	fs.StringVar(&c.ParticipantID, "id", envStr("WARPSONG_PARTICIPANT_ID", ""), "Participant id (default: random)")
	fs.StringVar(&c.SessionCode, "join", envStr("WARPSONG_SESSION", ""), "Session code to join")
	fs.BoolVar(&c.Create, "create", envBool("WARPSONG_CREATE", false), "Create a new session")
	fs.IntVar(&c.SampleRate, "sample-rate", envInt("WARPSONG_SAMPLE_RATE", engine.DefaultSampleRate), "Output sample rate in Hz")
	fs.DurationVar(&c.StartLatency, "start-latency", envDuration("WARPSONG_START_LATENCY", engine.DefaultStartLatency), "Lead time before a scheduled start")
	fs.DurationVar(&c.LoadTimeout, "load-timeout", envDuration("WARPSONG_LOAD_TIMEOUT", buffercache.DefaultLoadTimeout), "Wait before a stem load is reported partial")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", envDuration("WARPSONG_FETCH_TIMEOUT", buffercache.DefaultFetchTimeout), "HTTP timeout for stem downloads")
	fs.StringVar(&c.LogFile, "log-file", envStr("WARPSONG_LOG_FILE", "warpsong.log"), "Log file path")
	fs.BoolVar(&c.NoTUI, "no-tui", envBool("WARPSONG_NO_TUI", false), "Disable TUI, stream logs to stdout")
	fs.DurationVar(&c.Discover, "discover-timeout", envDuration("WARPSONG_DISCOVER_TIMEOUT", 10*time.Second), "How long to browse for a relay")

	if err := fs.Parse(args); err != nil {
		return Participant{}, err
	}
	if c.RelayURL == "" {
		c.RelayURL = c.APIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	c.RelayURL = strings.TrimRight(c.RelayURL, "/")
	return c, c.Validate()
}

// Validate checks option combinations
func (c Participant) Validate() error {
	if c.Create && c.SessionCode != "" {
		return errors.New("-create and -join are mutually exclusive")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	return nil
}

// LoadRelay parses relay flags
func LoadRelay(args []string) (Relay, error) {
	var c Relay
	fs := flag.NewFlagSet("warpsong-relay", flag.ContinueOnError)

	fs.IntVar(&c.Port, "port", envInt("WARPSONG_RELAY_PORT", DefaultRelayPort), "Port to listen on")
	fs.StringVar(&c.Name, "name", envStr("WARPSONG_RELAY_NAME", ""), "Relay friendly name (default: hostname-warpsong-relay)")
	fs.StringVar(&c.Catalog, "catalog", envStr("WARPSONG_CATALOG", ""), "Stem catalog JSON file (default: scan -stems)")
	fs.StringVar(&c.StemsDir, "stems", envStr("WARPSONG_STEMS_DIR", ""), "Directory served under /stems/")
	fs.BoolVar(&c.EnableMDNS, "mdns", envBool("WARPSONG_MDNS", true), "Advertise the relay via mDNS")
	fs.StringVar(&c.LogFile, "log-file", envStr("WARPSONG_LOG_FILE", ""), "Also log to this file")

	if err := fs.Parse(args); err != nil {
		return Relay{}, err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return Relay{}, fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		c.Name = fmt.Sprintf("%s-warpsong-relay", hostname)
	}
	return c, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("250ms") or bare milliseconds
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}
