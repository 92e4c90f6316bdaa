package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

// ChallengeSize is the number of random bytes in a revision challenge
const ChallengeSize = 30

// NewChallenge returns a fresh random challenge, base64 (standard alphabet) encoded
func NewChallenge() (string, error) {
	b := make([]byte, ChallengeSize)
	if _, err := rand.Read(b); err != nil {
		return "", WrapInternalError(err, "failed to generate challenge")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeChallenge(challenge string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return nil, WrapValidationError(err, "challenge is not base64")
	}
	if len(b) != ChallengeSize {
		return nil, NewValidationError("challenge has the wrong length")
	}
	return b, nil
}

// RespondToChallenge signs the raw challenge bytes
func RespondToChallenge(challenge string, signer Signer) (string, error) {
	b, err := decodeChallenge(challenge)
	if err != nil {
		return "", err
	}
	return signer.Sign(b)
}

// VerifyChallengeResponse checks that response is a signature over challenge by the holder of portableKey
func VerifyChallengeResponse(challenge, response, portableKey string) error {
	b, err := decodeChallenge(challenge)
	if err != nil {
		return err
	}
	return VerifySignature(response, b, portableKey)
}
