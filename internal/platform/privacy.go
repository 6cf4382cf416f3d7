package platform

// PrivacyGuard toggles the platform's "screen hidden in task switcher"
// and "screenshot blocked" flags while a preview is open. Advisory
// only; not part of the cryptographic guarantee. Hosts inject their
// per-OS implementation.
type PrivacyGuard interface {
	Engage()
	Disengage()
}

type noopPrivacyGuard struct{}

func (noopPrivacyGuard) Engage()    {}
func (noopPrivacyGuard) Disengage() {}

func NewPrivacyGuard() PrivacyGuard { return noopPrivacyGuard{} }
