// Package nkeyauth is the default natsws.Authentication, signing the
// server's handshake nonce with an nkeys Ed25519 seed.
package nkeyauth

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nats-io/nkeys"

	"github.com/arlobridge/natsws/pkg/natsws"
)

// Authenticator signs nonces with a loaded nkeys user seed.
type Authenticator struct {
	kp     nkeys.KeyPair
	pubKey string
}

// FromSeed loads an nkeys user seed (as produced by `nk -gen user` or a
// creds file's seed block) and returns an Authenticator ready to use.
func FromSeed(seed []byte) (*Authenticator, error) {
	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("nkeyauth: parsing seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("nkeyauth: deriving public key: %w", err)
	}
	return &Authenticator{kp: kp, pubKey: pub}, nil
}

// Credentials signs nonce (if present) and returns the nkey/sig pair for
// the CONNECT frame. A nil nonce means the server didn't request signing;
// the public key is still advertised so nkey-only auth (no challenge)
// continues to work.
func (a *Authenticator) Credentials(_ context.Context, nonce []byte) (natsws.Credentials, error) {
	creds := natsws.Credentials{NKey: a.pubKey}
	if len(nonce) == 0 {
		return creds, nil
	}
	sig, err := a.kp.Sign(nonce)
	if err != nil {
		return natsws.Credentials{}, fmt.Errorf("nkeyauth: signing nonce: %w", err)
	}
	creds.Signature = base64.RawURLEncoding.EncodeToString(sig)
	return creds, nil
}
