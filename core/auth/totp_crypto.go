package auth

import (
	"errors"
	"strings"

	"talon-console/core/utils"
)

var ErrTOTPSecretDecryptFailed = errors.New("totp secret decrypt failed")

// TOTP secrets are stored encrypted at rest, keyed off the password pepper
// so a database copy alone cannot yield working authenticator seeds.

func EncryptTOTPSecret(secretBase32 string, pepper string) (string, error) {
	enc, err := totpEncryptor(pepper)
	if err != nil {
		return "", err
	}
	return enc.Encrypt(strings.TrimSpace(secretBase32))
}

func DecryptTOTPSecret(secretEnc string, pepper string) (string, error) {
	secretEnc = strings.TrimSpace(secretEnc)
	if secretEnc == "" {
		return "", nil
	}
	enc, err := totpEncryptor(pepper)
	if err != nil {
		return "", err
	}
	plain, err := enc.Decrypt(secretEnc)
	if err != nil {
		return "", ErrTOTPSecretDecryptFailed
	}
	return strings.TrimSpace(plain), nil
}

func totpEncryptor(pepper string) (*utils.Encryptor, error) {
	pepper = strings.TrimSpace(pepper)
	if pepper == "" {
		return nil, errors.New("empty pepper")
	}
	return utils.NewEncryptor("talon-console:totp:" + pepper)
}
