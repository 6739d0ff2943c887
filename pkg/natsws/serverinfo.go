package natsws

import "github.com/arlobridge/natsws/pkg/natsws/njson"

// ServerInfo is the subset of the server's INFO frame the connection core
// and its callers care about.
type ServerInfo struct {
	ServerID       string
	Version        string
	HeadersSupport bool
	AuthRequired   bool
	TLSRequired    bool
	MaxPayload     int64
	Proto          int64
	Nonce          []byte
	ConnectURLs    []string
}

func parseServerInfo(raw []byte) (ServerInfo, error) {
	v, err := njson.Parse(raw)
	if err != nil {
		return ServerInfo{}, err
	}
	info := ServerInfo{
		ServerID:       v.Get("server_id").String(),
		Version:        v.Get("version").String(),
		HeadersSupport: v.Get("headers").BoolVal(),
		AuthRequired:   v.Get("auth_required").BoolVal(),
		TLSRequired:    v.Get("tls_required").BoolVal(),
		MaxPayload:     v.Get("max_payload").Int64(),
		Proto:          v.Get("proto").Int64(),
	}
	if nonce := v.Get("nonce").String(); nonce != "" {
		info.Nonce = []byte(nonce)
	}
	v.Get("connect_urls").ForEachArray(func(e *njson.Value) {
		info.ConnectURLs = append(info.ConnectURLs, e.String())
	})
	return info, nil
}

// connectPayload builds the CONNECT JSON object: the fixed fields every
// handshake sends, plus whichever non-empty credential fields the
// Authentication collaborator returned.
func connectPayload(opts *Options, creds Credentials) []byte {
	enc := njson.NewEncoder().
		FieldBool("verbose", false).
		FieldBool("pedantic", false).
		FieldString("lang", "go").
		FieldString("version", clientVersion).
		FieldInt("protocol", 1).
		FieldBool("headers", opts.Headers).
		FieldBool("no_responders", opts.NoResponders).
		FieldStringOmitEmpty("name", opts.Name).
		FieldStringOmitEmpty("jwt", creds.JWT).
		FieldStringOmitEmpty("sig", creds.Signature).
		FieldStringOmitEmpty("auth_token", creds.AuthToken).
		FieldStringOmitEmpty("user", creds.User).
		FieldStringOmitEmpty("pass", creds.Pass).
		FieldStringOmitEmpty("nkey", creds.NKey)
	return enc.Bytes()
}

const clientVersion = "0.1.0"
