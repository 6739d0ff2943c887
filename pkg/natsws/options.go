package natsws

import "time"

// Options configures a Connection. Fields mirror the option set a NATS
// client conventionally recognizes. Connect replaces a nil Auth and zero
// durations, sizes and counts (including MaxReconnectAttempt) with
// DefaultOptions' values; AllowReconnect, ReconnectJitter, Headers and
// NoResponders are used exactly as given.
type Options struct {
	// URL is the WebSocket endpoint, e.g. "wss://connect.example.com/nats".
	URL string `env:"NATSWS_URL" validate:"required"`

	// Name is advertised to the server in CONNECT for connection listing.
	Name string `env:"NATSWS_NAME"`

	// Auth supplies CONNECT credential fields. Defaults to NoAuth.
	Auth Authentication

	// Transport dials the byte stream. Required — there is no usable
	// default embedded in the core; pass wstransport.New(wstransport.Config{}) for the
	// gorilla/websocket-backed implementation.
	Transport Transport

	ConnectTimeout time.Duration `env:"NATSWS_CONNECT_TIMEOUT" env-default:"10s"`
	RequestTimeout time.Duration `env:"NATSWS_REQUEST_TIMEOUT" env-default:"5s"`

	AllowReconnect      bool          `env:"NATSWS_ALLOW_RECONNECT" env-default:"true"`
	MaxReconnectAttempt int           `env:"NATSWS_MAX_RECONNECT_ATTEMPTS" env-default:"-1"`
	ReconnectDelay      time.Duration `env:"NATSWS_RECONNECT_DELAY" env-default:"1s"`
	MaxReconnectDelay   time.Duration `env:"NATSWS_MAX_RECONNECT_DELAY" env-default:"30s"`
	ReconnectJitter     float64       `env:"NATSWS_RECONNECT_JITTER" env-default:"0.25"`

	// Headers advertises header support to the server in CONNECT.
	Headers bool `env:"NATSWS_HEADERS" env-default:"true"`
	// NoResponders requests 503 status replies for subjects with no
	// subscriber, the server-side half of the No-Responders contract.
	NoResponders bool `env:"NATSWS_NO_RESPONDERS" env-default:"true"`

	ReceiveBufferSize int           `env:"NATSWS_RECEIVE_BUFFER_SIZE" env-default:"65536"`
	PingInterval      time.Duration `env:"NATSWS_PING_INTERVAL" env-default:"2m"`
	MaxPingOut        int           `env:"NATSWS_MAX_PING_OUT" env-default:"3"`

	// StatusHandler is notified of every Status transition. Optional.
	StatusHandler func(from, to Status)
	// ErrorHandler is notified of non-fatal errors observed on the read or
	// keep-alive loops (see nerrors). Optional.
	ErrorHandler func(err error)
}

// DefaultOptions returns the baseline used to fill unset fields. The
// env-default tags on Options carry the same values, and those tags are what
// config.Load[Options] applies to unset environment variables.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:      10 * time.Second,
		RequestTimeout:      5 * time.Second,
		AllowReconnect:      true,
		MaxReconnectAttempt: -1,
		ReconnectDelay:      time.Second,
		MaxReconnectDelay:   30 * time.Second,
		ReconnectJitter:     0.25,
		Headers:             true,
		NoResponders:        true,
		ReceiveBufferSize:   64 * 1024,
		PingInterval:        2 * time.Minute,
		MaxPingOut:          3,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if o.MaxReconnectAttempt == 0 {
		o.MaxReconnectAttempt = d.MaxReconnectAttempt
	}
	if o.ReceiveBufferSize <= 0 {
		o.ReceiveBufferSize = d.ReceiveBufferSize
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.MaxPingOut <= 0 {
		o.MaxPingOut = d.MaxPingOut
	}
	if o.Auth == nil {
		o.Auth = NoAuth{}
	}
}
