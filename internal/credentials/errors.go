package credentials

import "fmt"

// DecryptionError reports a stored secret that could not be decrypted,
// typically corrupted ciphertext or a rotated key.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
