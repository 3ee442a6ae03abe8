package credentials

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

// BasicAuthHeader decrypts the site's stored app password and returns the
// Authorization header for the health probe.
func BasicAuthHeader(site crawler.Site, decrypter crawler.Decrypter) (http.Header, error) {
	secret, err := decrypter.Decrypt(site.AppPassword)
	if err != nil {
		var decErr *DecryptionError
		if errors.As(err, &decErr) {
			return nil, err
		}
		return nil, &DecryptionError{Err: err}
	}
	token := base64.StdEncoding.EncodeToString([]byte(site.Username + ":" + secret))
	headers := http.Header{}
	headers.Set("Authorization", "Basic "+token)
	return headers, nil
}
