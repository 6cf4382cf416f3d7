package platform

import "errors"

var ErrNoSealedSecret = errors.New("platform: no sealed secret")

// KeystoreBroker is the seam the biometric unlock collaborator uses:
// it seals the master secret in the OS keystore at enrollment and
// hands it back after a successful presence attestation. The core
// never prescribes how the sealing works.
type KeystoreBroker interface {
	SealSecret(secret []byte) error
	UnsealSecret() ([]byte, error)
	DropSecret() error
}

type noopKeystoreBroker struct{}

func (noopKeystoreBroker) SealSecret([]byte) error      { return nil }
func (noopKeystoreBroker) UnsealSecret() ([]byte, error) { return nil, ErrNoSealedSecret }
func (noopKeystoreBroker) DropSecret() error            { return nil }

func NewKeystoreBroker() KeystoreBroker { return noopKeystoreBroker{} }
