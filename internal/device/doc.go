// Package device defines the platform boundary used by pairing sessions:
// discovery, reliable GATT channels and the error vocabulary shared by
// every backend.
//
// Backends live in subpackages (see goble). Tests use the fakes in
// internal/testutils.
package device
