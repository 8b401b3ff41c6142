package token

import "encoding/base64"

// JWK is a single JSON Web Key in the published key set. Ed25519 keys use
// the OKP key type from RFC 8037.
type JWK struct {
	KeyType   string `json:"kty"`
	Curve     string `json:"crv"`
	KeyID     string `json:"kid"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	X         string `json:"x"`
}

// JWKS is the document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeySet builds the JWKS for the signer's active and retired keys.
func (s *Signer) KeySet() JWKS {
	keys := append([]*Key{s.active}, s.retired...)
	set := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		if k == nil {
			continue
		}
		set.Keys = append(set.Keys, JWK{
			KeyType:   "OKP",
			Curve:     "Ed25519",
			KeyID:     k.ID,
			Use:       "sig",
			Algorithm: "EdDSA",
			X:         base64.RawURLEncoding.EncodeToString(k.Public),
		})
	}
	return set
}
