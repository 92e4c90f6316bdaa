package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// HandleJWKS godoc
//
//	@Summary		Get JWK set
//	@Description	Returns the public key this party signs tokens, Hello url signatures and challenge responses with.
//	@Description
//	@Description	A provider's JWK set is what vendors list in their bank registry (`JWKSEndpoint` column).
//	@Description	Expect either an Ed25519 or an RSA key.
//	@Tags			Common
//
//	@Success		200	{object}	JWKSResponse	"JWK set"
//
//	@Router			/.well-known/jwks.json [get]
func HandleJWKS(jwkSet jwk.Set) http.HandlerFunc {
	body, err := json.Marshal(jwkSet)

	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "Failed to encode JWK set", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(body)
	}
}

// JWKSResponse documents the response shape, swag cannot describe the jwk.Set interface
type JWKSResponse struct {
	Keys []map[string]any `json:"keys"`
}
