package constants

import "time"

// Buffer names with a special meaning
const (
	// ServerBufferName is the console buffer every network owns
	ServerBufferName = "*"

	// RawBufferName receives raw protocol lines when raw echo is enabled
	RawBufferName = "*raw"

	// BouncerControlNetwork is the reserved network name of a bouncer control connection
	BouncerControlNetwork = "bnccontrol"
)

// History backfill
const (
	// HistoryInitialCount is how many messages are fetched backwards on a first connect
	HistoryInitialCount = 50

	// HistoryForwardCount is the page size of forward scrollback after a reconnect
	HistoryForwardCount = 50
)

// Nick collision handling
const (
	// NickRetryLimit is the number of automatic retries before registration gives up
	NickRetryLimit = 10

	// NickSuffixMax bounds the numeric suffix appended to a colliding nick
	NickSuffixMax = 99
)

// Client identification
const (
	// ClientVersion is sent in reply to CTCP VERSION
	ClientVersion = "ircsync"

	// DefaultRealname is used when a network does not configure one
	DefaultRealname = "ircsync"
)

// Buffer limits
const (
	// MessageLogLimit bounds the in-memory message log of a buffer
	MessageLogLimit = 1000
)

// Connection timing constants
const (
	// ConnectTimeout bounds dialing a server
	ConnectTimeout = 30 * time.Second

	// KeepAlive is the idle interval after which a PING is sent
	KeepAlive = 30 * time.Second

	// MaxRTT is how long to wait for any traffic after a keepalive PING
	MaxRTT = 10 * time.Second

	// SendRate is the sustained rate of outgoing lines per second
	SendRate = 2

	// SendBurst is the number of lines that may be sent without throttling
	SendBurst = 10

	// ConnectionStaggerDelay is the delay between each network connection attempt
	ConnectionStaggerDelay = 500 * time.Millisecond
)

// Persistence
const (
	// StorageBufferSize is the number of message records queued before a forced flush
	StorageBufferSize = 256

	// StorageFlushInterval is how often queued message records are written
	StorageFlushInterval = 2 * time.Second

	// RestoreMessageLimit is how many stored messages are loaded per buffer on startup
	RestoreMessageLimit = 100

	// ReconnectDelay is the pause between connection attempts of one network
	ReconnectDelay = 10 * time.Second
)

// QuitGracePeriod is how long shutdown waits for QUIT lines to be written
const QuitGracePeriod = 500 * time.Millisecond
