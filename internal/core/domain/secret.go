package domain

// Secret is the exchange API secret. It only ever lives in memory on the
// custody host; it is never logged, serialised or sent over the network.
type Secret []byte

// Wipe zeroes the secret in place.
func (s Secret) Wipe() {
	for i := range s {
		s[i] = 0
	}
}

// IsEmpty reports whether the secret holds no bytes.
func (s Secret) IsEmpty() bool {
	return len(s) == 0
}

// String hides the secret from fmt and log output.
func (s Secret) String() string {
	return "[REDACTED]"
}
